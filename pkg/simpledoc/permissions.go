package simpledoc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SystemPrincipalID is recorded as the actor of bootstrap grants.
const SystemPrincipalID = "system"

// granteesOf lists the principal itself followed by its roles, deduplicated.
func granteesOf(p Principal) []Grantee {
	out := []Grantee{{Kind: GranteePrincipal, ID: p.ID}}
	roles := append([]string(nil), p.Roles...)
	sort.Strings(roles)
	for i, role := range roles {
		if role == "" || (i > 0 && roles[i-1] == role) {
			continue
		}
		out = append(out, Grantee{Kind: GranteeRole, ID: role})
	}
	return out
}

func matchesGrantee(g *Grant, grantees []Grantee) bool {
	for _, candidate := range grantees {
		if g.Grantee == candidate {
			return true
		}
	}
	return false
}

// resolveCapabilities is the single place effective capabilities are
// computed: the owner holds everything, everyone else holds the union of the
// grants naming them or one of their roles, on this document or on all
// documents. It reads only grants indexed by those grantees.
func resolveCapabilities(ctx context.Context, tx ReadTx, p Principal, doc *Document) (CapabilitySet, error) {
	if p.ID != "" && doc.OwnerID == p.ID {
		return FullCapabilities, nil
	}
	grantees := granteesOf(p)
	id := doc.ID
	grants, err := tx.FindGrants(ctx, GrantQuery{DocumentID: &id, Grantees: grantees})
	if err != nil {
		return 0, err
	}

	var caps CapabilitySet
	for _, g := range grants {
		if !matchesGrantee(g, grantees) {
			continue
		}
		if g.DocumentID == nil || *g.DocumentID == doc.ID {
			caps = caps.Union(g.Capabilities)
		}
	}
	return caps, nil
}

// resolveWildcard returns the capabilities p holds on every document.
func resolveWildcard(ctx context.Context, tx ReadTx, p Principal) (CapabilitySet, error) {
	grantees := granteesOf(p)
	grants, err := tx.FindGrants(ctx, GrantQuery{Grantees: grantees})
	if err != nil {
		return 0, err
	}
	var caps CapabilitySet
	for _, g := range grants {
		if g.DocumentID == nil && matchesGrantee(g, grantees) {
			caps = caps.Union(g.Capabilities)
		}
	}
	return caps, nil
}

// findGrant returns the grant for grantee on documentID (nil for wildcard),
// or nil when there is none.
func findGrant(ctx context.Context, tx ReadTx, grantee Grantee, documentID *uuid.UUID) (*Grant, error) {
	grants, err := tx.FindGrants(ctx, GrantQuery{DocumentID: documentID, Grantees: []Grantee{grantee}})
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		if g.Grantee != grantee {
			continue
		}
		if documentID == nil && g.DocumentID == nil {
			return g, nil
		}
		if documentID != nil && g.DocumentID != nil && *g.DocumentID == *documentID {
			return g, nil
		}
	}
	return nil, nil
}

func (s *service) Resolve(ctx context.Context, principal Principal, documentID uuid.UUID) (CapabilitySet, error) {
	if err := validateRequest(principal); err != nil {
		return 0, err
	}
	var caps CapabilitySet
	err := s.view(ctx, func(ctx context.Context, tx ReadTx) error {
		doc, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		caps, err = resolveCapabilities(ctx, tx, principal, doc)
		return err
	})
	if err != nil {
		return 0, &DocumentError{DocumentID: documentID, Op: "resolve", Err: err}
	}
	return caps, nil
}

func (s *service) Authorize(ctx context.Context, principal Principal, documentID uuid.UUID, capability Capability) (bool, error) {
	if !capability.Valid() {
		return false, invalid("unknown capability %q", capability)
	}
	caps, err := s.Resolve(ctx, principal, documentID)
	if err != nil {
		return false, err
	}
	ok := caps.Has(capability)
	s.metrics.decision(capability, ok)
	return ok, nil
}

func (s *service) Grant(ctx context.Context, req GrantRequest) (*Grant, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Capabilities.IsEmpty() {
		return nil, invalid("at least one capability is required")
	}

	var result *Grant
	op := operation{principal: req.Actor, documentID: req.DocumentID, action: ActionGrant}
	err := s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		if _, _, err := s.require(ctx, tx, req.Actor, req.DocumentID, CapabilityManagePermissions); err != nil {
			return err
		}
		docID := req.DocumentID
		grant, err := s.mergeGrant(ctx, tx, req.Actor.ID, req.Grantee, &docID, req.Capabilities, true)
		if err != nil {
			return err
		}
		result = grant
		detail := fmt.Sprintf("%s:%s +%s", req.Grantee.Kind, req.Grantee.ID, req.Capabilities)
		return s.recorder.Record(ctx, tx, allowed(req.Actor, req.DocumentID, nil, ActionGrant, detail))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("granted capabilities",
		"document_id", req.DocumentID, "actor_id", req.Actor.ID,
		"grantee", req.Grantee.ID, "capabilities", req.Capabilities.String())
	return result, nil
}

// mergeGrant adds caps to the grantee's grant, creating it if needed. With
// strict set, a request that adds nothing fails with ErrConflict.
func (s *service) mergeGrant(ctx context.Context, tx Tx, actorID string, grantee Grantee, documentID *uuid.UUID, caps CapabilitySet, strict bool) (*Grant, error) {
	now := s.clock()
	existing, err := findGrant(ctx, tx, grantee, documentID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if existing.Capabilities.Contains(caps) {
			if strict {
				return nil, fmt.Errorf("%w: grant already holds %s", ErrConflict, caps)
			}
			return existing, nil
		}
		existing.Capabilities = existing.Capabilities.Union(caps)
		existing.GrantedBy = actorID
		existing.UpdatedAt = now
		if err := tx.UpsertGrant(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	grant := &Grant{
		ID:            uuid.New(),
		Grantee:       grantee,
		DocumentID:    documentID,
		Capabilities:  caps,
		GrantedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: SchemaVersion,
	}
	if err := tx.UpsertGrant(ctx, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// removeGrant strips caps from the grantee's grant, deleting it once empty.
// An empty caps removes the grant outright.
func removeGrant(ctx context.Context, tx Tx, grantee Grantee, documentID *uuid.UUID, caps CapabilitySet, now func() time.Time) error {
	existing, err := findGrant(ctx, tx, grantee, documentID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: no grant for %s:%s", ErrNotFound, grantee.Kind, grantee.ID)
	}
	if caps.IsEmpty() {
		return tx.DeleteGrant(ctx, existing.ID)
	}
	if existing.Capabilities&caps == 0 {
		return fmt.Errorf("%w: grant holds none of %s", ErrNotFound, caps)
	}

	remaining := existing.Capabilities.Without(caps)
	if remaining.IsEmpty() {
		return tx.DeleteGrant(ctx, existing.ID)
	}
	existing.Capabilities = remaining
	existing.UpdatedAt = now()
	return tx.UpsertGrant(ctx, existing)
}

func (s *service) Revoke(ctx context.Context, req RevokeRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	op := operation{principal: req.Actor, documentID: req.DocumentID, action: ActionRevoke}
	err := s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		if _, _, err := s.require(ctx, tx, req.Actor, req.DocumentID, CapabilityManagePermissions); err != nil {
			return err
		}
		docID := req.DocumentID
		if err := removeGrant(ctx, tx, req.Grantee, &docID, req.Capabilities, s.clock); err != nil {
			return err
		}
		detail := fmt.Sprintf("%s:%s -%s", req.Grantee.Kind, req.Grantee.ID, revokedLabel(req.Capabilities))
		return s.recorder.Record(ctx, tx, allowed(req.Actor, req.DocumentID, nil, ActionRevoke, detail))
	})
	if err != nil {
		return err
	}
	s.logger.Info("revoked capabilities",
		"document_id", req.DocumentID, "actor_id", req.Actor.ID, "grantee", req.Grantee.ID)
	return nil
}

func revokedLabel(caps CapabilitySet) string {
	if caps.IsEmpty() {
		return "all"
	}
	return caps.String()
}

// requireWildcardManage checks that actor may change grants on every document.
func (s *service) requireWildcardManage(ctx context.Context, tx ReadTx, actor Principal) error {
	caps, err := resolveWildcard(ctx, tx, actor)
	if err != nil {
		return err
	}
	ok := caps.Has(CapabilityManagePermissions)
	s.metrics.decision(CapabilityManagePermissions, ok)
	if !ok {
		return &denial{capability: CapabilityManagePermissions}
	}
	return nil
}

func (s *service) GrantRole(ctx context.Context, req RoleGrantRequest) (*Grant, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Capabilities.IsEmpty() {
		return nil, invalid("at least one capability is required")
	}

	var result *Grant
	grantee := Grantee{Kind: GranteeRole, ID: req.Role}
	op := operation{principal: req.Actor, documentID: uuid.Nil, action: ActionGrant}
	err := s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		if err := s.requireWildcardManage(ctx, tx, req.Actor); err != nil {
			return err
		}
		grant, err := s.mergeGrant(ctx, tx, req.Actor.ID, grantee, nil, req.Capabilities, true)
		if err != nil {
			return err
		}
		result = grant
		detail := fmt.Sprintf("role:%s +%s on *", req.Role, req.Capabilities)
		return s.recorder.Record(ctx, tx, allowed(req.Actor, uuid.Nil, nil, ActionGrant, detail))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) RevokeRole(ctx context.Context, req RoleGrantRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	grantee := Grantee{Kind: GranteeRole, ID: req.Role}
	op := operation{principal: req.Actor, documentID: uuid.Nil, action: ActionRevoke}
	return s.mutate(ctx, op, func(ctx context.Context, tx Tx) error {
		if err := s.requireWildcardManage(ctx, tx, req.Actor); err != nil {
			return err
		}
		if err := removeGrant(ctx, tx, grantee, nil, req.Capabilities, s.clock); err != nil {
			return err
		}
		detail := fmt.Sprintf("role:%s -%s on *", req.Role, revokedLabel(req.Capabilities))
		return s.recorder.Record(ctx, tx, allowed(req.Actor, uuid.Nil, nil, ActionRevoke, detail))
	})
}

func (s *service) BootstrapRole(ctx context.Context, role string, caps CapabilitySet) (*Grant, error) {
	if role == "" {
		return nil, invalid("role is required")
	}
	if caps.IsEmpty() {
		return nil, invalid("at least one capability is required")
	}

	system := Principal{ID: SystemPrincipalID}
	var result *Grant
	err := s.update(ctx, func(ctx context.Context, tx Tx) error {
		grant, err := s.mergeGrant(ctx, tx, system.ID, Grantee{Kind: GranteeRole, ID: role}, nil, caps, false)
		if err != nil {
			return err
		}
		result = grant
		detail := fmt.Sprintf("role:%s bootstrap %s on *", role, caps)
		return s.recorder.Record(ctx, tx, allowed(system, uuid.Nil, nil, ActionGrant, detail))
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap role %s: %w", role, err)
	}
	s.logger.Info("bootstrapped role grant", "role", role, "capabilities", caps.String())
	return result, nil
}

func (s *service) ListGrants(ctx context.Context, principal Principal, documentID uuid.UUID) ([]*Grant, error) {
	if err := validateRequest(principal); err != nil {
		return nil, err
	}
	var grants []*Grant
	op := operation{principal: principal, documentID: documentID, action: ActionList}
	err := s.inspect(ctx, op, func(ctx context.Context, tx ReadTx) error {
		if _, _, err := s.require(ctx, tx, principal, documentID, CapabilityManagePermissions); err != nil {
			return err
		}
		id := documentID
		var err error
		grants, err = tx.ListGrants(ctx, &id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}
