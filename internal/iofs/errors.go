// Package iofs ensures the on-disk layout (config/cache/log directories,
// default config file) that dex expects at startup.
package iofs

import (
	"fmt"
	"runtime"

	"github.com/fieldnote/dex/pkg/errcode"
)

func CreateDirError(dir string, err error) error {
	pc, _, _, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	return &errcode.Error{
		Code: errcode.CreateDirError,
		Msg:  "Cannot create %s",
		Vars: []any{dir},
		Err:  fmt.Errorf("from %s: cannot create directory: %w", fn, err),
	}
}

func CopyFileError(file string, err error) error {
	pc, _, _, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	return &errcode.Error{
		Code: errcode.WriteFileError,
		Msg:  "Cannot write default config file to %s",
		Vars: []any{file},
		Err:  fmt.Errorf("from %s: cannot write file: %w", fn, err),
	}
}

func ReadFileError(path string, err error) error {
	pc, _, _, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	return &errcode.Error{
		Code: errcode.ReadFileError,
		Msg:  "Cannot read <em>%s</em>",
		Vars: []any{path},
		Err:  fmt.Errorf("from %s: cannot read %s: %w", fn, path, err),
	}
}
