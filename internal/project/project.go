// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package project implements the project metadata store: lifecycle CRUD,
// paginated listing, upload-session records, and the cascade delete that
// removes every blob a project owns.
package project

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/pkg/schema"
)

// ErrBadCursor is returned by List for cursors this store did not mint.
var ErrBadCursor = errors.New("malformed list cursor")

// ErrCorrupt marks a metadata record that exists but does not decode. List
// skips such records; the watchdog deletes them.
var ErrCorrupt = errors.New("corrupt project metadata")

// DefaultListLimit applies when a listing caller does not pick a page size.
const DefaultListLimit = 20

// listBatch is the kv page size used while filtering for metadata keys.
// Larger than any sane limit so most listings finish in one store call.
const listBatch = 256

// Store persists projects across three kv bindings: metadata and sessions in
// Projects, asset blobs in Assets, server code in ServerCode. The bindings
// may alias the same physical store; key layout keeps them disjoint.
type Store struct {
	Projects   kv.Store
	Assets     kv.Store
	ServerCode kv.Store
	// NewID and Now are overridable for tests.
	NewID func() string
	Now   func() time.Time
}

// NewStore returns a Store over the given bindings.
func NewStore(projects, assets, serverCode kv.Store) *Store {
	return &Store{
		Projects:   projects,
		Assets:     assets,
		ServerCode: serverCode,
		NewID:      uuid.NewString,
		Now:        time.Now,
	}
}

// Create mints a PENDING project. The metadata record carries a TTL so
// projects that never deploy evaporate on their own.
func (s *Store) Create(ctx context.Context, name string) (*schema.Project, error) {
	now := s.Now().UTC()
	p := &schema.Project{
		ID:        s.NewID(),
		Name:      name,
		Status:    schema.ProjectStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Put(ctx, p, schema.ProjectPendingTTL); err != nil {
		return nil, err
	}
	return p, nil
}

// Get fetches one project. Absent or expired projects yield kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*schema.Project, error) {
	raw, _, err := s.Projects.Get(ctx, schema.MetadataKey(id))
	if err != nil {
		return nil, err
	}
	var p schema.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "project %s: %v", id, err)
	}
	return &p, nil
}

// Put writes the metadata record, stamping UpdatedAt. A zero TTL makes the
// record durable, clearing any PENDING expiry.
func (s *Store) Put(ctx context.Context, p *schema.Project, ttl time.Duration) error {
	p.UpdatedAt = s.Now().UTC()
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "encoding project %s", p.ID)
	}
	return s.Projects.Put(ctx, schema.MetadataKey(p.ID), raw, &kv.PutOptions{
		ContentType: "application/json",
		TTL:         ttl,
	})
}

// Page is one window of a project listing.
type Page struct {
	Projects []*schema.Project
	Cursor   string
	Complete bool
}

// cursorPayload is the composite List cursor: the kv cursor of the page being
// consumed plus how many metadata keys of that page were already returned.
// The offset exists because one kv page can carry many metadata keys when a
// binding aliases several stores.
type cursorPayload struct {
	C string `json:"c"`
	O int    `json:"o,omitempty"`
}

func encodeCursor(c string, o int) string {
	raw, _ := json.Marshal(cursorPayload{C: c, O: o})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (cursorPayload, error) {
	var pos cursorPayload
	if cursor == "" {
		return pos, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return pos, ErrBadCursor
	}
	if err := json.Unmarshal(raw, &pos); err != nil {
		return pos, ErrBadCursor
	}
	return pos, nil
}

// MetadataIDs extracts project ids from a kv key page, dropping asset,
// module, and manifest keys that share the prefix when bindings alias one
// physical store.
func MetadataIDs(keys []string) []string {
	var ids []string
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, schema.ProjectsPrefix)
		if !ok {
			continue
		}
		id, suffix, ok := strings.Cut(rest, "/")
		if !ok || id == "" || suffix != "metadata" {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// List pages through project metadata in id order. Projects that expire
// between listing and fetch are skipped, never duplicated; so are records
// that fail to decode.
func (s *Store) List(ctx context.Context, limit int, cursor string) (*Page, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > schema.MaxListLimit {
		limit = schema.MaxListLimit
	}
	pos, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	page := &Page{}
	kvCursor, skip := pos.C, pos.O
	for {
		pageCursor := kvCursor
		kvPage, err := s.Projects.List(ctx, schema.ProjectsPrefix, listBatch, pageCursor)
		if err != nil {
			return nil, errors.Wrap(err, "listing projects")
		}
		ids := MetadataIDs(kvPage.Keys)
		for idx, id := range ids {
			if idx < skip {
				continue
			}
			p, err := s.Get(ctx, id)
			if kv.IsNotFound(err) || errors.Is(err, ErrCorrupt) {
				// Expired mid-listing, or unreadable. Either way the record
				// cannot be returned; corrupt ones are the watchdog's to
				// collect.
				continue
			} else if err != nil {
				return nil, err
			}
			page.Projects = append(page.Projects, p)
			if len(page.Projects) == limit {
				switch {
				case idx+1 < len(ids):
					page.Cursor = encodeCursor(pageCursor, idx+1)
				case !kvPage.Complete:
					page.Cursor = encodeCursor(kvPage.Cursor, 0)
				default:
					page.Complete = true
				}
				return page, nil
			}
		}
		skip = 0
		if kvPage.Complete {
			page.Complete = true
			return page, nil
		}
		kvCursor = kvPage.Cursor
	}
}

// Delete cascades through everything the project owns. Blob classes go
// before metadata so a crash mid-delete never leaves metadata pointing at
// nothing: asset blobs and their manifest, then server code, then sessions,
// then the metadata record itself. Deleting an absent project is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := kv.DeleteAllByPrefix(ctx, s.Assets, schema.ProjectPrefix(id)+"asset/"); err != nil {
		return errors.Wrap(err, "deleting assets")
	}
	if err := s.Assets.Delete(ctx, schema.ManifestKey(id)); err != nil {
		return errors.Wrap(err, "deleting asset manifest")
	}
	if _, err := kv.DeleteAllByPrefix(ctx, s.ServerCode, schema.ModulePrefix(id)); err != nil {
		return errors.Wrap(err, "deleting server code")
	}
	if _, err := kv.DeleteAllByPrefix(ctx, s.Projects, schema.SessionPrefix(id)); err != nil {
		return errors.Wrap(err, "deleting sessions")
	}
	if err := s.Projects.Delete(ctx, schema.MetadataKey(id)); err != nil {
		return errors.Wrap(err, "deleting metadata")
	}
	return nil
}

// PutSession writes the session record, resetting its TTL.
func (s *Store) PutSession(ctx context.Context, session *schema.UploadSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return errors.Wrapf(err, "encoding session %s", session.ID)
	}
	return s.Projects.Put(ctx, schema.SessionKey(session.ProjectID, session.ID), raw, &kv.PutOptions{
		ContentType: "application/json",
		TTL:         schema.SessionTTL,
	})
}

// GetSession fetches one session record, kv.ErrNotFound when absent or
// expired.
func (s *Store) GetSession(ctx context.Context, projectID, sessionID string) (*schema.UploadSession, error) {
	raw, _, err := s.Projects.Get(ctx, schema.SessionKey(projectID, sessionID))
	if err != nil {
		return nil, err
	}
	var session schema.UploadSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, errors.Wrapf(err, "decoding session %s", sessionID)
	}
	return &session, nil
}

// DeleteSession removes the session record. Sessions are single-use:
// finalization deletes before committing so a completion token can never be
// replayed.
func (s *Store) DeleteSession(ctx context.Context, projectID, sessionID string) error {
	return s.Projects.Delete(ctx, schema.SessionKey(projectID, sessionID))
}
