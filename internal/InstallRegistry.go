package internal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// InstallRecord is what the registry remembers about an installed item.
type InstallRecord struct {
	Folder  string
	Size    uint64
	Updated time.Time
	Legacy  bool
}

// InstallRegistry is the on-disk index of installed items, stored as a protobuf encoded
// Struct keyed by item id. It is not safe for concurrent use.
type InstallRegistry struct {
	path    string
	records map[ItemId]InstallRecord
}

// LoadInstallRegistry reads path. A missing file yields an empty registry.
func LoadInstallRegistry(path string) (*InstallRegistry, error) {
	r := &InstallRegistry{
		path:    path,
		records: make(map[ItemId]InstallRecord),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	var root structpb.Struct
	if err := proto.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode install registry %s: %w", path, err)
	}

	for key, value := range root.GetFields() {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil || id == 0 {
			PushLogWarning(r, TagWorkshop, fmt.Sprintf("Skipping install registry entry %q", key))
			continue
		}
		fields := value.GetStructValue().GetFields()
		r.records[ItemId(id)] = InstallRecord{
			Folder:  fields["folder"].GetStringValue(),
			Size:    uint64(fields["size"].GetNumberValue()),
			Updated: time.Unix(int64(fields["updated"].GetNumberValue()), 0),
			Legacy:  fields["legacy"].GetBoolValue(),
		}
	}
	return r, nil
}

// Get returns the record for id.
func (r *InstallRegistry) Get(id ItemId) (InstallRecord, bool) {
	rec, ok := r.records[id]
	return rec, ok
}

// Put stores rec under id.
func (r *InstallRegistry) Put(id ItemId, rec InstallRecord) {
	r.records[id] = rec
}

// Delete forgets id.
func (r *InstallRegistry) Delete(id ItemId) {
	delete(r.records, id)
}

// Len returns the number of records.
func (r *InstallRegistry) Len() int {
	return len(r.records)
}

// Each calls fn for every record.
func (r *InstallRegistry) Each(fn func(id ItemId, rec InstallRecord)) {
	for id, rec := range r.records {
		fn(id, rec)
	}
}

// Save writes the registry back to disk.
func (r *InstallRegistry) Save() error {
	entries := make(map[string]any, len(r.records))
	for id, rec := range r.records {
		entries[id.String()] = map[string]any{
			"folder":  rec.Folder,
			"size":    float64(rec.Size),
			"updated": float64(rec.Updated.Unix()),
			"legacy":  rec.Legacy,
		}
	}

	root, err := structpb.NewStruct(entries)
	if err != nil {
		return fmt.Errorf("encode install registry: %w", err)
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(root)
	if err != nil {
		return fmt.Errorf("encode install registry: %w", err)
	}

	if _, err := writeFileAtomic(r.path, "registry.pb_tempUpdate", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write install registry: %w", err)
	}
	return nil
}
