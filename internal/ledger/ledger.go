package ledger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	logx "discowatch/pkg/logx"
)

// Known document keys. Names are kept byte-compatible with the state files
// written by earlier deployments so an existing state.json keeps working.
const (
	keyWatermarks    = "last_dm_ids"
	keyProfiles      = "users"
	keyNotifiedIDs   = "notified_message_ids"
	keySummarySentAt = "last_statistics_sent_at"
)

// Notified-id set bounds: once an insert would push the set past the cap it
// is truncated to the most recent keep entries (insertion order) first.
const (
	notifiedCap  = 5000
	notifiedKeep = 3000
)

// Snapshot is the last-observed profile of a tracked or friend user.
// It is always replaced whole; there is no partial-field merge.
type Snapshot struct {
	Username string  `json:"username"`
	Avatar   *string `json:"avatar"`
}

// Ledger is the cross-run state store: per-channel message watermarks,
// per-user profile snapshots, the notified-message-id set and a raw section
// for everything else. It persists as a single JSON object and is owned by
// exactly one run at a time, so it does no locking.
type Ledger struct {
	path string
	log  logx.Logger

	watermarks  map[string]uint64
	profiles    map[string]Snapshot
	notified    []string
	notifiedSet map[string]struct{}
	summarySent string
	extra       map[string]json.RawMessage
}

// Open loads the ledger at path. A missing file starts an empty ledger;
// malformed content is logged and likewise starts empty. Open never fails.
func Open(path string, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Ledger{path: path, log: log}
	l.reset()

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("no existing state file, starting fresh", logx.String("path", path))
		return l
	case err != nil:
		log.Warn("state file unreadable, starting fresh", logx.String("path", path), logx.Err(err))
		return l
	}

	if err := l.decode(b); err != nil {
		log.Warn("state file malformed, starting fresh", logx.String("path", path), logx.Err(err))
		l.reset()
		return l
	}
	log.Info("state loaded",
		logx.Int("channels", len(l.watermarks)),
		logx.Int("profiles", len(l.profiles)),
		logx.Int("notified_ids", len(l.notified)))
	return l
}

func (l *Ledger) reset() {
	l.watermarks = map[string]uint64{}
	l.profiles = map[string]Snapshot{}
	l.notified = nil
	l.notifiedSet = map[string]struct{}{}
	l.summarySent = ""
	l.extra = map[string]json.RawMessage{}
}

func (l *Ledger) decode(b []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}

	for k, raw := range doc {
		switch k {
		case keyWatermarks:
			if err := json.Unmarshal(raw, &l.watermarks); err != nil {
				return err
			}
		case keyProfiles:
			if err := json.Unmarshal(raw, &l.profiles); err != nil {
				return err
			}
		case keyNotifiedIDs:
			if err := json.Unmarshal(raw, &l.notified); err != nil {
				return err
			}
		case keySummarySentAt:
			if err := json.Unmarshal(raw, &l.summarySent); err != nil {
				return err
			}
		default:
			l.extra[k] = raw
		}
	}
	if l.watermarks == nil {
		l.watermarks = map[string]uint64{}
	}
	if l.profiles == nil {
		l.profiles = map[string]Snapshot{}
	}
	for _, id := range l.notified {
		l.notifiedSet[id] = struct{}{}
	}
	return nil
}

// Flush writes the full document atomically (write-new-then-rename) so a
// crash mid-write never leaves a half-written file. Failures are logged,
// not returned as fatal; the error is exposed for callers that care.
func (l *Ledger) Flush() error {
	doc := make(map[string]any, len(l.extra)+4)
	for k, v := range l.extra {
		doc[k] = v
	}
	doc[keyWatermarks] = l.watermarks
	doc[keyProfiles] = l.profiles
	doc[keyNotifiedIDs] = l.notifiedSlice()
	if l.summarySent != "" {
		doc[keySummarySentAt] = l.summarySent
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		l.log.Error("state marshal failed", logx.Err(err))
		return err
	}

	tmp := l.path + ".tmp"
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			l.log.Error("state dir create failed", logx.String("dir", dir), logx.Err(err))
			return err
		}
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		l.log.Error("state write failed", logx.String("path", tmp), logx.Err(err))
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		l.log.Error("state rename failed", logx.String("path", l.path), logx.Err(err))
		return err
	}
	l.log.Info("state saved", logx.String("path", l.path))
	return nil
}

func (l *Ledger) notifiedSlice() []string {
	if l.notified == nil {
		return []string{}
	}
	return l.notified
}

// ---- per-channel watermarks ----

// Watermark reports the highest message id already processed for a channel.
func (l *Ledger) Watermark(channelID uint64) (uint64, bool) {
	id, ok := l.watermarks[strconv.FormatUint(channelID, 10)]
	return id, ok
}

// SetWatermark advances the channel watermark. It never moves backwards.
func (l *Ledger) SetWatermark(channelID, messageID uint64) {
	key := strconv.FormatUint(channelID, 10)
	if cur, ok := l.watermarks[key]; ok && messageID <= cur {
		return
	}
	l.watermarks[key] = messageID
}

// ---- per-user profile snapshots ----

func (l *Ledger) Profile(userID uint64) (Snapshot, bool) {
	s, ok := l.profiles[strconv.FormatUint(userID, 10)]
	return s, ok
}

// SetProfile replaces the stored snapshot for a user wholesale.
func (l *Ledger) SetProfile(userID uint64, s Snapshot) {
	l.profiles[strconv.FormatUint(userID, 10)] = s
}

// ClearProfile forgets a user (e.g. after a relationship was removed).
func (l *Ledger) ClearProfile(userID uint64) {
	delete(l.profiles, strconv.FormatUint(userID, 10))
}

// ---- notified-message-id set ----

func (l *Ledger) WasNotified(messageID uint64) bool {
	_, ok := l.notifiedSet[strconv.FormatUint(messageID, 10)]
	return ok
}

// MarkNotified records a message id as notified. The set is truncated to
// its most recent entries when it would grow past the cap; it is never
// cleared outright.
func (l *Ledger) MarkNotified(messageID uint64) {
	id := strconv.FormatUint(messageID, 10)
	if _, ok := l.notifiedSet[id]; ok {
		return
	}
	if len(l.notified) >= notifiedCap {
		cut := len(l.notified) - notifiedKeep
		for _, old := range l.notified[:cut] {
			delete(l.notifiedSet, old)
		}
		l.notified = append([]string(nil), l.notified[cut:]...)
	}
	l.notified = append(l.notified, id)
	l.notifiedSet[id] = struct{}{}
}

// NotifiedCount reports the current size of the notified-id set.
func (l *Ledger) NotifiedCount() int { return len(l.notified) }

// ---- daily summary ----

// SummarySentAt returns the full local timestamp recorded for the last
// successfully sent daily summary ("" if never).
func (l *Ledger) SummarySentAt() string { return l.summarySent }

// SetSummarySentAt records the local timestamp of a successful summary.
func (l *Ledger) SetSummarySentAt(ts string) { l.summarySent = ts }

// ---- raw accessors ----

// Get returns the raw JSON value stored under an auxiliary key.
func (l *Ledger) Get(key string) (json.RawMessage, bool) {
	v, ok := l.extra[key]
	return v, ok
}

// Set stores a JSON-compatible value under an auxiliary key.
func (l *Ledger) Set(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.extra[key] = b
	return nil
}

// Delete removes an auxiliary key if present.
func (l *Ledger) Delete(key string) { delete(l.extra, key) }
