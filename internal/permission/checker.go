package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opsploit/core/internal/event"
	"github.com/opsploit/core/internal/hierarchy"
)

// Checker handles permission checks and approvals. Every stateful map is
// keyed by the root session ID rather than the requesting session ID: a
// decision made anywhere in a session tree applies to the whole tree, so
// an approval given to a root session is visible to every sub-agent
// dispatched under it.
type Checker struct {
	mu          sync.Mutex
	tree        *hierarchy.Registry
	approved    map[string]map[string]bool    // rootID -> approval key -> true
	ultrasploit map[string]bool               // rootID -> enabled
	pending     map[string]map[string]*askRef // rootID -> requestID -> waiter
	policy      PolicyHook
	closed      bool
}

// askRef is one suspended Ask: the request as stored (SessionID already
// resolved to the root), its approval keys, and the channel its goroutine
// blocks on.
type askRef struct {
	req  Request
	keys []string
	ch   chan Response
}

// NewChecker creates a new permission checker bubbling state through tree.
func NewChecker(tree *hierarchy.Registry) *Checker {
	if tree == nil {
		tree = hierarchy.NewRegistry()
	}
	return &Checker{
		tree:        tree,
		approved:    make(map[string]map[string]bool),
		ultrasploit: make(map[string]bool),
		pending:     make(map[string]map[string]*askRef),
	}
}

// SetPolicyHook installs (or clears, with nil) a policy hook consulted
// before every ask.
func (c *Checker) SetPolicyHook(hook PolicyHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = hook
}

// EnableUltrasploit turns on auto-approve-everything for sessionID's tree.
func (c *Checker) EnableUltrasploit(sessionID string) {
	root := c.tree.RootOf(sessionID)
	c.mu.Lock()
	c.ultrasploit[root] = true
	c.mu.Unlock()
}

// DisableUltrasploit turns auto-approve back off for sessionID's tree.
func (c *Checker) DisableUltrasploit(sessionID string) {
	root := c.tree.RootOf(sessionID)
	c.mu.Lock()
	delete(c.ultrasploit, root)
	c.mu.Unlock()
}

// IsUltrasploit reports whether sessionID's tree has ultrasploit enabled.
func (c *Checker) IsUltrasploit(sessionID string) bool {
	root := c.tree.RootOf(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ultrasploit[root]
}

// approvalKeys returns the keys an ask must have covered to resolve
// without prompting: the request's patterns, or its bare type when it
// carries none.
func approvalKeys(req Request) []string {
	if len(req.Pattern) > 0 {
		return req.Pattern
	}
	return []string{string(req.Type)}
}

// Check performs a permission check based on action configuration.
func (c *Checker) Check(ctx context.Context, req Request, action PermissionAction) error {
	switch action {
	case ActionAllow:
		return nil
	case ActionDeny:
		return &RejectedError{
			SessionID: c.tree.RootOf(req.SessionID),
			Type:      req.Type,
			CallID:    req.CallID,
			Metadata:  req.Metadata,
			Message:   "Permission denied by configuration",
		}
	case ActionAsk:
		return c.Ask(ctx, req)
	}
	return nil
}

// Ask resolves a permission request: checks ultrasploit, then any already
// approved key for the tree's root, then the policy hook, and only then
// surfaces an ask event and blocks for a response.
func (c *Checker) Ask(ctx context.Context, req Request) error {
	root := c.tree.RootOf(req.SessionID)
	keys := approvalKeys(req)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &RejectedError{
			SessionID: root,
			Type:      req.Type,
			CallID:    req.CallID,
			Metadata:  req.Metadata,
			Message:   "Permission engine shut down",
		}
	}
	if c.ultrasploit[root] {
		c.mu.Unlock()
		return nil
	}
	if c.coveredLocked(root, keys) {
		c.mu.Unlock()
		return nil
	}
	hook := c.policy
	c.mu.Unlock()

	if hook != nil {
		switch hook(req) {
		case ActionAllow:
			return nil
		case ActionDeny:
			return &RejectedError{
				SessionID: root,
				Type:      req.Type,
				CallID:    req.CallID,
				Metadata:  req.Metadata,
				Message:   "Permission denied by policy",
			}
		}
	}

	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	stored := req
	stored.SessionID = root

	ref := &askRef{req: stored, keys: keys, ch: make(chan Response, 1)}

	c.mu.Lock()
	if c.pending[root] == nil {
		c.pending[root] = make(map[string]*askRef)
	}
	c.pending[root][req.ID] = ref
	c.mu.Unlock()

	event.Publish(event.Event{
		Type: event.PermissionUpdated,
		Data: event.PermissionUpdatedData{
			ID:             req.ID,
			SessionID:      stored.SessionID,
			PermissionType: string(req.Type),
			Pattern:        req.Pattern,
			Title:          req.Title,
		},
	})

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending[root], req.ID)
		c.mu.Unlock()
		return ctx.Err()
	case resp := <-ref.ch:
		if resp.Action == "reject" {
			return &RejectedError{
				SessionID: root,
				Type:      req.Type,
				CallID:    req.CallID,
				Metadata:  req.Metadata,
				Message:   "Permission rejected by user",
			}
		}
		return nil
	}
}

// Respond handles a user's response to a pending permission request. On
// "always" it records the request's keys as approved for the root and
// then re-scans that root's remaining pending requests, responding
// "always" in turn to every request whose keys the recorded approvals now
// fully cover.
func (c *Checker) Respond(requestID string, action string) {
	c.mu.Lock()
	root, ref := c.takeLocked(requestID)
	if ref == nil {
		c.mu.Unlock()
		return
	}

	resolved := []*askRef{ref}
	if action == "always" {
		c.recordLocked(root, ref.keys)
		// Coalesce: an "always" may cover other asks already queued for
		// the same root (the same tool raised from several sub-agents, or
		// a wildcard covering several concrete patterns).
		for {
			var next *askRef
			for id, p := range c.pending[root] {
				if c.coveredLocked(root, p.keys) {
					next = p
					delete(c.pending[root], id)
					break
				}
			}
			if next == nil {
				break
			}
			c.recordLocked(root, next.keys)
			resolved = append(resolved, next)
		}
	}
	c.mu.Unlock()

	for _, p := range resolved {
		p.ch <- Response{RequestID: p.req.ID, Action: action}
		event.Publish(event.Event{
			Type: event.PermissionReplied,
			Data: event.PermissionRepliedData{
				PermissionID: p.req.ID,
				Response:     action,
			},
		})
	}
}

// Pending returns the pending requests bubbled to sessionID's root, in no
// particular order.
func (c *Checker) Pending(sessionID string) []Request {
	root := c.tree.RootOf(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	reqs := make([]Request, 0, len(c.pending[root]))
	for _, p := range c.pending[root] {
		reqs = append(reqs, p.req)
	}
	return reqs
}

// Teardown rejects every outstanding ask and refuses any further ones.
func (c *Checker) Teardown() {
	c.mu.Lock()
	c.closed = true
	var all []*askRef
	for root, m := range c.pending {
		for _, p := range m {
			all = append(all, p)
		}
		delete(c.pending, root)
	}
	c.mu.Unlock()

	for _, p := range all {
		p.ch <- Response{RequestID: p.req.ID, Action: "reject"}
	}
}

// takeLocked removes and returns the pending entry for requestID along
// with its root. Caller holds c.mu.
func (c *Checker) takeLocked(requestID string) (string, *askRef) {
	for root, m := range c.pending {
		if p, ok := m[requestID]; ok {
			delete(m, requestID)
			return root, p
		}
	}
	return "", nil
}

// coveredLocked reports whether every key is matched by some approved
// pattern for root. Caller holds c.mu.
func (c *Checker) coveredLocked(root string, keys []string) bool {
	granted := c.approved[root]
	if len(granted) == 0 {
		return false
	}
	for _, k := range keys {
		if granted[k] {
			continue
		}
		matched := false
		for pat := range granted {
			if MatchWildcard(pat, k) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// recordLocked marks keys approved for root. Caller holds c.mu.
func (c *Checker) recordLocked(root string, keys []string) {
	if c.approved[root] == nil {
		c.approved[root] = make(map[string]bool)
	}
	for _, k := range keys {
		c.approved[root][k] = true
	}
}

// approveForRoot records an approval outside the ask/respond flow, for
// configuration-driven grants.
func (c *Checker) approveForRoot(root string, permType PermissionType, patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(patterns) > 0 {
		c.recordLocked(root, patterns)
		return
	}
	c.recordLocked(root, []string{string(permType)})
}

// IsApproved checks if a permission type is already approved for
// sessionID's root.
func (c *Checker) IsApproved(sessionID string, permType PermissionType) bool {
	root := c.tree.RootOf(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coveredLocked(root, []string{string(permType)})
}

// IsPatternApproved checks if a specific pattern is approved for
// sessionID's root.
func (c *Checker) IsPatternApproved(sessionID string, pattern string) bool {
	root := c.tree.RootOf(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coveredLocked(root, []string{pattern})
}

// ClearSession clears all approvals for sessionID's root tree.
func (c *Checker) ClearSession(sessionID string) {
	root := c.tree.RootOf(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.approved, root)
	delete(c.ultrasploit, root)
}

// ApprovePattern explicitly approves a pattern for sessionID's root.
func (c *Checker) ApprovePattern(sessionID string, pattern string) {
	root := c.tree.RootOf(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(root, []string{pattern})
}
