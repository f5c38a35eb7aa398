//go:build !unix

package library

import "io/fs"

func fileKey(fs.FileInfo) string {
	return ""
}
