package services

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// BusinessObjectService materializes one DataItem per deposit, with a DataFile for
// each payload file and a MetadataFile for each BagIt tag file.
//
// Objects already in the vault keep their business ids, so a re-run updates rather
// than duplicates them.
type BusinessObjectService struct {
	Allocator ingest.IdAllocator
}

// NewBusinessObjectService returns a builder drawing business ids from alloc.
func NewBusinessObjectService(alloc ingest.IdAllocator) *BusinessObjectService {
	return &BusinessObjectService{Allocator: alloc}
}

func (s *BusinessObjectService) ID() string { return BusinessObjectServiceID }

// DataItemLocalID is the vault local id of a deposit's DataItem.
func DataItemLocalID(depositID string) string {
	return "item:" + depositID
}

// IsTagFile reports whether relPath is BagIt tag metadata rather than payload.
func IsTagFile(relPath string) bool {
	for _, part := range strings.Split(path.Dir(relPath), "/") {
		if part == "data" {
			return false
		}
	}
	name := path.Base(relPath)
	switch {
	case name == "bagit.txt", name == "bag-info.txt", name == "fetch.txt":
		return true
	case strings.HasPrefix(name, "manifest-"), strings.HasPrefix(name, "tagmanifest-"):
		return strings.HasSuffix(name, ".txt")
	}
	return false
}

// Execute implements ingest.Service.
func (s *BusinessObjectService) Execute(ctx context.Context, depositID string, state *ingest.IngestState) error {
	vault := state.Vault()
	pkg := state.Package()
	itemLocal := DataItemLocalID(depositID)

	item, exists := ingest.VaultGet[*ingest.DataItem](vault, itemLocal, ingest.TypeDataItem)
	if !exists {
		id, err := s.allocate(ctx, ingest.TypeDataItem)
		if err != nil {
			return err
		}
		item = &ingest.DataItem{ID: id}
	}
	item.Name = depositName(state, depositID)
	item.DepositorID = state.User()
	item.DepositDate = state.CreatedAt()
	item.FileIDs = nil

	for _, rel := range pkg.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		set := fileSet(state, rel)
		format, _ := set.First(ingest.AttrFileFormat)

		var obj ingest.BusinessObject
		var typ ingest.TypeTag
		if IsTagFile(rel) {
			typ = ingest.TypeMetadataFile
			mf, ok := ingest.VaultGet[*ingest.MetadataFile](vault, rel, typ)
			if !ok {
				id, err := s.allocate(ctx, typ)
				if err != nil {
					return err
				}
				mf = &ingest.MetadataFile{ID: id}
			}
			mf.Name, mf.Path, mf.Format, mf.ParentID = path.Base(rel), rel, format, item.ID
			obj = mf
		} else {
			typ = ingest.TypeDataFile
			df, ok := ingest.VaultGet[*ingest.DataFile](vault, rel, typ)
			if !ok {
				id, err := s.allocate(ctx, typ)
				if err != nil {
					return err
				}
				df = &ingest.DataFile{ID: id}
			}
			df.Name, df.Path, df.Format, df.ParentID = path.Base(rel), rel, format, item.ID
			df.Checksum, _ = set.First(ingest.AttrFileChecksum)
			if v, ok := set.First(ingest.AttrFileSize); ok {
				df.Size, _ = strconv.ParseInt(v, 10, 64)
			}
			item.FileIDs = append(item.FileIDs, df.ID)
			obj = df
		}

		if err := store(vault, rel, obj, typ); err != nil {
			return err
		}
		if _, err := state.Events().Record(ctx, ingest.EventTypeBusinessObjectBuilt, obj.BusinessID(), string(typ), rel); err != nil {
			return err
		}
	}

	if err := store(vault, itemLocal, item, ingest.TypeDataItem); err != nil {
		return err
	}
	_, err := state.Events().Record(ctx, ingest.EventTypeBusinessObjectBuilt, item.ID, string(ingest.TypeDataItem), itemLocal)
	return err
}

func (s *BusinessObjectService) allocate(ctx context.Context, typ ingest.TypeTag) (string, error) {
	alloc := s.Allocator
	if alloc == nil {
		alloc = ingest.UUIDAllocator{}
	}
	ids, err := alloc.Allocate(ctx, 1, string(typ))
	if err != nil {
		return "", fmt.Errorf("failed to allocate %s id: %w", typ, err)
	}
	if len(ids) == 0 || ids[0] == "" {
		return "", ingest.NewInternalError(fmt.Sprintf("id allocator returned no %s id", typ), nil).
			WithOperation("businessobject.allocate")
	}
	return ids[0], nil
}

func store(vault *ingest.BusinessObjectVault, localID string, obj ingest.BusinessObject, typ ingest.TypeTag) error {
	if _, exists := vault.GetByLocalID(localID, typ); exists {
		return vault.Update(localID, obj, typ)
	}
	return vault.Add(localID, obj, typ)
}

func depositName(state *ingest.IngestState, depositID string) string {
	if set, ok := state.Attributes().Get(deposit.DepositSetKey(depositID)); ok {
		if name, ok := set.First(ingest.AttrDepositFileName); ok && name != "" {
			return name
		}
	}
	return depositID
}
