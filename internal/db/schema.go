package db

// SchemaSQL defines the chat and message tables. Statements are
// idempotent so InitSchema can run on every startup.
const SchemaSQL = `
DEFINE TABLE IF NOT EXISTS chat SCHEMAFULL;
DEFINE FIELD IF NOT EXISTS user ON chat TYPE string;
DEFINE FIELD IF NOT EXISTS created_at ON chat TYPE datetime;
DEFINE FIELD IF NOT EXISTS updated_at ON chat TYPE datetime;
DEFINE FIELD IF NOT EXISTS prompt ON chat TYPE string;
DEFINE FIELD IF NOT EXISTS last_message_id ON chat TYPE option<string>;
DEFINE FIELD IF NOT EXISTS public ON chat TYPE bool DEFAULT false;
DEFINE FIELD IF NOT EXISTS branches ON chat FLEXIBLE TYPE array<object> DEFAULT [];
DEFINE INDEX IF NOT EXISTS chat_user ON chat FIELDS user;

DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
DEFINE FIELD IF NOT EXISTS chat ON message TYPE record<chat>;
DEFINE FIELD IF NOT EXISTS path ON message TYPE array<string>;
DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime;
DEFINE FIELD IF NOT EXISTS prompt ON message TYPE string;
DEFINE FIELD IF NOT EXISTS ai ON message TYPE object;
DEFINE FIELD IF NOT EXISTS ai.model ON message TYPE string;
DEFINE FIELD IF NOT EXISTS ai.provider ON message TYPE string;
DEFINE FIELD IF NOT EXISTS reply ON message FLEXIBLE TYPE option<object>;
DEFINE INDEX IF NOT EXISTS message_chat ON message FIELDS chat;
DEFINE INDEX IF NOT EXISTS message_path ON message FIELDS path;
`
