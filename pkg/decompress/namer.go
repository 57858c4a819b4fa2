package decompress

import (
	"path/filepath"

	"github.com/img2kvm/img2kvm/pkg/errors"
	"github.com/img2kvm/img2kvm/pkg/format"
)

// OutputPath names the decompressed file for src: the base name of src with
// exactly its final extension removed, joined to workDir.
func OutputPath(workDir, src string) (string, error) {
	base := filepath.Base(src)
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return "", errors.E(errors.KindPath, "failed to get file stem", src, nil)
	}

	stem, _, _ := format.SplitExt(base)
	if stem == "" {
		return "", errors.E(errors.KindPath, "failed to get file stem", src, nil)
	}
	return filepath.Join(workDir, stem), nil
}
