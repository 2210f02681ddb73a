package provider

import (
	"os"
	"syscall"
)

// UnixFileInfo extends FileInfo with Unix-specific metadata
type UnixFileInfo interface {
	FileInfo
	UID() uint32
	GID() uint32
	Mode() os.FileMode
	IsRegular() bool
}

type unixFileInfo struct {
	*localFileInfo
	uid  uint32
	gid  uint32
	mode os.FileMode
}

func (u *unixFileInfo) UID() uint32       { return u.uid }
func (u *unixFileInfo) GID() uint32       { return u.gid }
func (u *unixFileInfo) Mode() os.FileMode { return u.mode }

// WrapOSFileInfo converts an os.FileInfo into a UnixFileInfo.
func WrapOSFileInfo(info os.FileInfo) UnixFileInfo {
	base := &localFileInfo{
		name:    info.Name(),
		size:    info.Size(),
		isDir:   info.IsDir(),
		regular: info.Mode().IsRegular(),
		modTime: info.ModTime(),
	}

	u := &unixFileInfo{localFileInfo: base, mode: info.Mode().Perm()}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		u.uid = st.Uid
		u.gid = st.Gid
	}
	return u
}

// NewUnixFileInfo creates a UnixFileInfo from raw values.
func NewUnixFileInfo(info FileInfo, uid, gid uint32, mode os.FileMode) UnixFileInfo {
	return &unixFileInfo{
		localFileInfo: &localFileInfo{
			name:    info.Name(),
			size:    info.Size(),
			isDir:   info.IsDir(),
			regular: !info.IsDir(),
			modTime: info.ModTime(),
		},
		uid:  uid,
		gid:  gid,
		mode: mode,
	}
}

// Readable reports whether a process running as uid/gid may read the file,
// judged from the permission bits alone. Root reads everything.
func Readable(info UnixFileInfo, uid, gid int) bool {
	if uid == 0 {
		return true
	}
	mode := info.Mode()
	switch {
	case uint32(uid) == info.UID():
		return mode&0o400 != 0
	case uint32(gid) == info.GID():
		return mode&0o040 != 0
	default:
		return mode&0o004 != 0
	}
}

// ApplyMetadata applies permissions and, when chown is set, ownership.
func ApplyMetadata(path string, fileInfo FileInfo, chown bool) error {
	unixInfo, ok := fileInfo.(UnixFileInfo)
	if !ok {
		return nil
	}

	if unixInfo.Mode() != 0 {
		if err := os.Chmod(path, unixInfo.Mode()); err != nil {
			return err
		}
	}
	if chown {
		if err := os.Chown(path, int(unixInfo.UID()), int(unixInfo.GID())); err != nil {
			return err
		}
	}
	return nil
}
