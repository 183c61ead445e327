package store

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"clipshare/pkg/envelope"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/timeutil"
)

// ItemRecord is the stored metadata of one upload.
type ItemRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	Body    string `json:"body,omitempty"`
	Created int64  `json:"created"`
}

// ContentURL is where a client downloads the blob of item id.
func ContentURL(id string) string { return "/v1/items/" + id + "/content" }

// Item converts the record to what gets pushed to clients.
func (r ItemRecord) Item() envelope.Item {
	created := time.UnixMilli(r.Created).UTC()
	if r.Type == envelope.ClipboardType {
		return envelope.Clipboard{ID: r.ID, Body: r.Body, Created: created}
	}
	return envelope.FileLink{ID: r.ID, Name: r.Name, Type: r.Type, URL: ContentURL(r.ID), Size: r.Size, Created: created}
}

// PutItem stores the body read from r under user. A body longer than
// maxSize (when positive) is rejected with ErrTooLarge and nothing is
// written.
func (s *Store) PutItem(user string, h envelope.UploadHeader, r io.Reader, maxSize int64) (ItemRecord, error) {
	if s.db == nil {
		return ItemRecord{}, ErrClosed
	}
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return ItemRecord{}, fmt.Errorf("read upload: %w", err)
	}
	if maxSize > 0 && int64(len(body)) > maxSize {
		return ItemRecord{}, ErrTooLarge
	}

	typ := h.Type
	if typ == "" {
		typ = "application/octet-stream"
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	rec := ItemRecord{
		ID:      FormatID(s.nextSeq(batch)),
		Name:    h.Name,
		Type:    typ,
		Size:    int64(len(body)),
		Created: timeutil.UnixMilli(),
	}
	if h.IsClipboard() {
		rec.Body = string(body)
	}
	meta, err := json.Marshal(rec)
	if err != nil {
		return ItemRecord{}, err
	}

	uh := UserHash(user)
	if err := batch.Set([]byte(genItemKey(uh, rec.ID)), meta, nil); err != nil {
		return ItemRecord{}, err
	}
	if err := batch.Set([]byte(genBlobKey(uh, rec.ID)), body, nil); err != nil {
		return ItemRecord{}, err
	}
	if err := batch.Commit(s.wo); err != nil {
		logger.Error("put_item_failed", "error", err)
		return ItemRecord{}, fmt.Errorf("save item: %w", err)
	}
	logger.Debug("put_item_ok", "id", rec.ID, "size", rec.Size, "type", rec.Type)
	return rec, nil
}

// ListItems returns up to limit of user's most recent items, oldest first.
// When after is set, only items newer than that id are returned.
func (s *Store) ListItems(user string, limit int, after string) ([]ItemRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ItemRecord
	err := s.scan(genItemPrefix(UserHash(user)), true, func(k, v []byte) (bool, error) {
		_, id, err := parseItemKey(string(k))
		if err != nil {
			return false, err
		}
		if after != "" && id <= after {
			return false, nil
		}
		var rec ItemRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return false, fmt.Errorf("decode item %s: %w", id, err)
		}
		out = append(out, rec)
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetItem returns the metadata of one item.
func (s *Store) GetItem(user, id string) (ItemRecord, error) {
	if _, err := ParseID(id); err != nil {
		return ItemRecord{}, ErrNotFound
	}
	b, err := s.get(genItemKey(UserHash(user), id))
	if err != nil {
		return ItemRecord{}, err
	}
	var rec ItemRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return ItemRecord{}, fmt.Errorf("decode item %s: %w", id, err)
	}
	return rec, nil
}

// GetBlob returns the metadata and content of one item.
func (s *Store) GetBlob(user, id string) (ItemRecord, []byte, error) {
	rec, err := s.GetItem(user, id)
	if err != nil {
		return ItemRecord{}, nil, err
	}
	body, err := s.get(genBlobKey(UserHash(user), id))
	if err != nil {
		return ItemRecord{}, nil, err
	}
	return rec, body, nil
}

// PurgeItemsBefore deletes every item, of every user, created before cutoff.
func (s *Store) PurgeItemsBefore(cutoff time.Time) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	limit := cutoff.UnixMilli()
	n := 0
	err := s.scan(itemPrefix, false, func(k, v []byte) (bool, error) {
		var rec ItemRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			logger.Warn("item_record_corrupt", "key", string(k), "error", err)
			return true, nil
		}
		if rec.Created >= limit {
			return true, nil
		}
		uh, id, err := parseItemKey(string(k))
		if err != nil {
			return true, nil
		}
		if err := batch.Delete([]byte(genItemKey(uh, id)), nil); err != nil {
			return false, err
		}
		if err := batch.Delete([]byte(genBlobKey(uh, id)), nil); err != nil {
			return false, err
		}
		n++
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := batch.Commit(s.wo); err != nil {
		return 0, err
	}
	return n, nil
}

// CountItemsBefore reports how many items PurgeItemsBefore would remove.
func (s *Store) CountItemsBefore(cutoff time.Time) (int, error) {
	limit := cutoff.UnixMilli()
	n := 0
	err := s.scan(itemPrefix, false, func(_, v []byte) (bool, error) {
		var rec ItemRecord
		if err := json.Unmarshal(v, &rec); err == nil && rec.Created < limit {
			n++
		}
		return true, nil
	})
	return n, err
}
