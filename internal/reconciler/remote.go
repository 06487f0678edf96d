package reconciler

import (
	"encoding/json"
	"fmt"

	"github.com/marksync/marksync/internal/tree"
)

// RemoteChange is a canonical-side change received from the remote store
// via the sync engine. The union is closed; the applier matches it
// exhaustively.
type RemoteChange interface {
	remoteChange()
}

// RemoteAdd inserts a subtree whose ids were assigned by the remote store.
type RemoteAdd struct {
	Bookmark *tree.Bookmark
	ParentID int
	Index    int
}

// RemoteModify updates fields of an existing synced bookmark.
type RemoteModify struct {
	SyncedID int
	Fields   tree.Fields
}

// RemoteMove repositions an existing synced bookmark.
type RemoteMove struct {
	SyncedID int
	ParentID int
	Index    int
}

// RemoteRemove deletes a synced subtree.
type RemoteRemove struct {
	SyncedID int
}

func (RemoteAdd) remoteChange()    {}
func (RemoteModify) remoteChange() {}
func (RemoteMove) remoteChange()   {}
func (RemoteRemove) remoteChange() {}

// remoteChangeEnvelope is the JSON form exchanged with sync engine
// adapters: a tagged object per change.
type remoteChangeEnvelope struct {
	Op       string         `json:"op"`
	Bookmark *tree.Bookmark `json:"bookmark,omitempty"`
	SyncedID int            `json:"syncedId,omitempty"`
	ParentID int            `json:"parentId,omitempty"`
	Index    int            `json:"index,omitempty"`

	Title       *string  `json:"title,omitempty"`
	URL         *string  `json:"url,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// DecodeRemoteChanges parses a JSON array of tagged change objects.
func DecodeRemoteChanges(data []byte) ([]RemoteChange, error) {
	var envelopes []remoteChangeEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("decode remote changes: %w", err)
	}
	changes := make([]RemoteChange, 0, len(envelopes))
	for _, env := range envelopes {
		switch env.Op {
		case "add":
			if env.Bookmark == nil {
				return nil, fmt.Errorf("decode remote add: missing bookmark")
			}
			changes = append(changes, RemoteAdd{Bookmark: env.Bookmark, ParentID: env.ParentID, Index: env.Index})
		case "modify":
			changes = append(changes, RemoteModify{
				SyncedID: env.SyncedID,
				Fields: tree.Fields{
					Title:       env.Title,
					URL:         env.URL,
					Description: env.Description,
					Tags:        env.Tags,
				},
			})
		case "move":
			changes = append(changes, RemoteMove{SyncedID: env.SyncedID, ParentID: env.ParentID, Index: env.Index})
		case "remove":
			changes = append(changes, RemoteRemove{SyncedID: env.SyncedID})
		default:
			return nil, fmt.Errorf("%w: remote op %q", ErrAmbiguousSyncRequest, env.Op)
		}
	}
	return changes, nil
}

// EncodeRemoteChanges is the inverse of DecodeRemoteChanges.
func EncodeRemoteChanges(changes []RemoteChange) ([]byte, error) {
	envelopes := make([]remoteChangeEnvelope, 0, len(changes))
	for _, ch := range changes {
		switch c := ch.(type) {
		case RemoteAdd:
			envelopes = append(envelopes, remoteChangeEnvelope{Op: "add", Bookmark: c.Bookmark, ParentID: c.ParentID, Index: c.Index})
		case RemoteModify:
			envelopes = append(envelopes, remoteChangeEnvelope{
				Op:          "modify",
				SyncedID:    c.SyncedID,
				Title:       c.Fields.Title,
				URL:         c.Fields.URL,
				Description: c.Fields.Description,
				Tags:        c.Fields.Tags,
			})
		case RemoteMove:
			envelopes = append(envelopes, remoteChangeEnvelope{Op: "move", SyncedID: c.SyncedID, ParentID: c.ParentID, Index: c.Index})
		case RemoteRemove:
			envelopes = append(envelopes, remoteChangeEnvelope{Op: "remove", SyncedID: c.SyncedID})
		default:
			return nil, fmt.Errorf("%w: remote change %T", ErrAmbiguousSyncRequest, ch)
		}
	}
	return json.Marshal(envelopes)
}
