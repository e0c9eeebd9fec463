package services

import (
	"path"
	"path/filepath"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// FileSetKey is the attribute store key of the File set describing path.
func FileSetKey(relPath string) string {
	return ingest.SetNameFile + ":" + relPath
}

// fileSet returns the File set for relPath, creating it if absent.
func fileSet(state *ingest.IngestState, relPath string) ingest.AttributeSet {
	if set, ok := state.Attributes().Get(FileSetKey(relPath)); ok {
		return set
	}
	return ingest.NewAttributeSet(ingest.SetNameFile,
		ingest.Attribute{Name: ingest.AttrFilePath, Type: ingest.AttrTypeString, Value: relPath},
		ingest.Attribute{Name: ingest.AttrFileName, Type: ingest.AttrTypeString, Value: path.Base(relPath)},
	)
}

// setFileAttr writes one attribute of the File set for relPath.
func setFileAttr(state *ingest.IngestState, relPath, name, typ, value string) error {
	set := fileSet(state, relPath)
	set.Set(name, typ, value)
	return state.Attributes().Update(FileSetKey(relPath), set)
}

// localPath returns the on-disk path of a package file.
func localPath(pkg ingest.Package, relPath string) string {
	return filepath.Join(pkg.BaseDir, filepath.FromSlash(relPath))
}
