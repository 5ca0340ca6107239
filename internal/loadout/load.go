package loadout

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Error codes for LoadError.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE or YAML load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeSchema      = "E201" // Value does not match #Loadout
	ErrCodeInvalid     = "E202" // Cross-reference validation failed
)

// LoadError is a loading or validation failure.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLoadError reports whether err is a *LoadError with the given code.
func IsLoadError(err error, code string) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Code == code
}

// Load reads a loadout from a .yaml/.yml file, a .cue file or a
// directory of CUE files, then validates it.
func Load(path string) (*Loadout, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("loadout not found: %s", path)}
	}
	var l *Loadout
	switch {
	case info.IsDir():
		l, err = LoadCUE(path)
	case strings.EqualFold(filepath.Ext(path), ".cue"):
		l, err = LoadCUEFile(path)
	default:
		l, err = LoadYAML(path)
	}
	if err != nil {
		return nil, err
	}
	if errs := l.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return l, nil
}

// LoadYAML reads a YAML loadout. Unknown fields are errors.
// The result is normalized but not validated.
func LoadYAML(path string) (*Loadout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	return DecodeYAML(bytes.NewReader(data))
}

// DecodeYAML decodes a YAML loadout from r.
func DecodeYAML(r io.Reader) (*Loadout, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var l Loadout
	if err := dec.Decode(&l); err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("decoding yaml: %v", err)}
	}
	l.normalize()
	return &l, nil
}

// LoadCUE loads the "loadout" field of the CUE package in dir.
// The result is normalized but not validated.
func LoadCUE(dir string) (*Loadout, error) {
	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, cueError(ErrCodeBuildFailed, "building CUE value", err)
	}
	return decodeCUE(ctx, value)
}

// LoadCUEFile loads the "loadout" field of a single CUE file.
func LoadCUEFile(path string) (*Loadout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, cueError(ErrCodeBuildFailed, "compiling CUE", err)
	}
	return decodeCUE(ctx, value)
}

func decodeCUE(ctx *cue.Context, value cue.Value) (*Loadout, error) {
	v := value.LookupPath(cue.ParsePath("loadout"))
	if !v.Exists() {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: "no loadout field found"}
	}

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, cueError(ErrCodeBuildFailed, "compiling schema", err)
	}
	v = schema.LookupPath(cue.ParsePath("#Loadout")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeSchema, "loadout does not match schema", err)
	}

	var l Loadout
	if err := v.Decode(&l); err != nil {
		return nil, cueError(ErrCodeLoadFailed, "decoding loadout", err)
	}
	l.normalize()
	return &l, nil
}

// cueError converts the first CUE error to a LoadError with its position.
func cueError(code, context string, err error) *LoadError {
	le := &LoadError{Code: code, Message: fmt.Sprintf("%s: %v", context, err)}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		le.Pos = errs[0].Position()
		le.Message = fmt.Sprintf("%s: %s", context, errs[0].Error())
	}
	return le
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
