package collect

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// moveFile renames source to destination. If that fails (usually because both are on
// different filesystems), the file is copied and the source removed afterwards.
func moveFile(source, destination string) error {
	err := os.Rename(source, destination)
	if err == nil {
		return nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", source)
	}

	err = copyFile(source, info, destination)
	if err != nil {
		// don't leave a partial artifact behind
		os.Remove(destination)
		return err
	}

	err = os.Remove(source)
	if err != nil {
		return eris.Wrapf(err, "failed to remove %s after copying it", source)
	}

	return nil
}

func copyFile(source string, info os.FileInfo, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", source)
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", destination)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to copy %s to %s", source, destination)
	}

	err = out.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", destination)
	}

	return nil
}
