package chat

import (
	"sort"

	"github.com/tfreechat/tfreechat-go/internal/models"
)

// Chain returns a message's ancestor id chain from the root down to and
// including the message itself. Retroactive branch-key stamps appended
// after the message's own id are dropped.
func Chain(m *models.Message) ([]string, error) {
	own, err := models.RecordIDString(m.ID)
	if err != nil {
		return nil, err
	}
	for i, id := range m.Path {
		if id == own {
			chain := make([]string, i+1)
			copy(chain, m.Path[:i+1])
			return chain, nil
		}
	}
	// Own id missing from the path: degenerate, treat the message as its
	// own root.
	return []string{own}, nil
}

// MemberOf reports whether a message belongs to the branch keyed by id.
func MemberOf(m *models.Message, branchKey string) bool {
	for _, id := range m.Path {
		if id == branchKey {
			return true
		}
	}
	return false
}

// sortByCreated orders messages oldest first, id as tiebreaker so the
// order is deterministic for equal timestamps.
func sortByCreated(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return models.MustRecordIDString(out[i].ID) < models.MustRecordIDString(out[j].ID)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveThread resolves the single thread to render from a flattened
// message view: walk from the tree root, picking exactly one child at
// every branch point. Selection priority at each point is the chain
// through viewBranch, then the chain through the chat's default tip,
// then the earliest child, which is the original un-forked continuation.
// A viewBranch that matches no message fails soft to the default thread.
func ActiveThread(chat *models.Chat, msgs []models.Message, viewBranch string) []models.Message {
	if len(msgs) == 0 {
		return nil
	}

	byID := make(map[string]*models.Message, len(msgs))
	for i := range msgs {
		id, err := models.RecordIDString(msgs[i].ID)
		if err != nil {
			continue
		}
		byID[id] = &msgs[i]
	}

	children := make(map[string][]*models.Message)
	var root *models.Message
	for i := range msgs {
		m := &msgs[i]
		pid, err := m.ParentID()
		if err != nil {
			continue
		}
		if pid == "" || byID[pid] == nil {
			if root == nil || m.CreatedAt.Before(root.CreatedAt) {
				root = m
			}
			continue
		}
		children[pid] = append(children[pid], m)
	}
	if root == nil {
		return sortByCreated(msgs)
	}
	for _, kids := range children {
		sortChildren(kids)
	}

	onSelected := chainSet(byID[viewBranch])
	var onDefault map[string]bool
	if chat.LastMessageID != nil {
		onDefault = chainSet(byID[*chat.LastMessageID])
	}

	var thread []models.Message
	cur := root
	for cur != nil {
		thread = append(thread, *cur)
		id, err := models.RecordIDString(cur.ID)
		if err != nil {
			break
		}
		kids := children[id]
		if len(kids) == 0 {
			break
		}
		cur = pickChild(kids, onSelected, onDefault)
	}
	return thread
}

// chainSet returns the set of ids on a message's ancestor chain, or nil.
func chainSet(m *models.Message) map[string]bool {
	if m == nil {
		return nil
	}
	chain, err := Chain(m)
	if err != nil {
		return nil
	}
	set := make(map[string]bool, len(chain))
	for _, id := range chain {
		set[id] = true
	}
	return set
}

func sortChildren(kids []*models.Message) {
	sort.SliceStable(kids, func(i, j int) bool {
		if kids[i].CreatedAt.Equal(kids[j].CreatedAt) {
			return models.MustRecordIDString(kids[i].ID) < models.MustRecordIDString(kids[j].ID)
		}
		return kids[i].CreatedAt.Before(kids[j].CreatedAt)
	})
}

func pickChild(kids []*models.Message, onSelected, onDefault map[string]bool) *models.Message {
	for _, k := range kids {
		if id, err := models.RecordIDString(k.ID); err == nil && onSelected[id] {
			return k
		}
	}
	for _, k := range kids {
		if id, err := models.RecordIDString(k.ID); err == nil && onDefault[id] {
			return k
		}
	}
	return kids[0]
}

// BranchOption is one selectable continuation at a branch point, annotated
// with whether it lies on the displayed thread.
type BranchOption struct {
	// ID is the fork's first message id, nil for the original continuation.
	ID     *string
	Prompt string
	Active bool
}

// BranchMenu computes the selectable continuations for every branch point
// visible in the displayed thread. Branch points holding only the implicit
// original continuation present no menu.
func BranchMenu(chat *models.Chat, thread []models.Message) map[string][]BranchOption {
	index := chat.BranchMap()
	if len(index) == 0 {
		return nil
	}

	onThread := make(map[string]bool, len(thread))
	for _, m := range thread {
		onThread[models.MustRecordIDString(m.ID)] = true
	}

	menus := make(map[string][]BranchOption)
	for at, refs := range index {
		if !onThread[at] {
			continue
		}
		explicit := 0
		for _, r := range refs {
			if r.ID != nil {
				explicit++
			}
		}
		if explicit == 0 {
			continue
		}

		opts := make([]BranchOption, 0, len(refs))
		for _, r := range refs {
			active := false
			if r.ID != nil {
				active = onThread[*r.ID]
			} else {
				// The original continuation is active when no explicit
				// fork at this point is on the thread.
				active = true
				for _, other := range refs {
					if other.ID != nil && onThread[*other.ID] {
						active = false
						break
					}
				}
			}
			opts = append(opts, BranchOption{ID: r.ID, Prompt: r.Prompt, Active: active})
		}
		menus[at] = opts
	}
	if len(menus) == 0 {
		return nil
	}
	return menus
}
