// Package schema loads domain models declared in CUE.
//
// A model file declares entities and structures:
//
//	entity: Person: {
//		key: Id: "int"
//		fields: {
//			Name:    "string"
//			Salary:  {type: "decimal", optional: true}
//			Address: {structure: "Address"}
//			Manager: {reference: "Person", optional: true}
//			Pets:    {set: "Pet", paired: "Owner"}
//		}
//	}
//	structure: Address: fields: City: "string"
//
// Declarations are unified with the #Model definition embedded in this
// package before they are converted, so shape errors carry CUE positions.
// Field order is declaration order and fixes the row layout.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/quill/internal/model"
)

//go:embed schema.cue
var schemaCUE string

const schemaFilename = "schema.cue"

// Compile converts a CUE value holding entity and structure declarations
// into a model.
func Compile(v cue.Value) (*model.Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(ErrCodeBuildFailed, err)
	}

	def := v.Context().CompileString(schemaCUE, cue.Filename(schemaFilename)).LookupPath(cue.ParsePath("#Model"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("schema definition: %w", err)
	}
	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(ErrCodeBuildFailed, err)
	}

	b := model.NewBuilder()
	n := 0
	err := eachField(unified.LookupPath(cue.ParsePath("entity")), func(name string, ev cue.Value) error {
		fields, err := entityFields(ev)
		if err != nil {
			return err
		}
		b.AddEntity(name, fields...)
		n++
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = eachField(unified.LookupPath(cue.ParsePath("structure")), func(name string, sv cue.Value) error {
		fields, err := declaredFields(sv.LookupPath(cue.ParsePath("fields")))
		if err != nil {
			return err
		}
		b.AddStructure(name, fields...)
		n++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &CompileError{Code: ErrCodeNoTypes, Message: "model declares no entities or structures", Pos: v.Pos()}
	}

	m, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	return m, nil
}

// CompileString compiles a model from CUE source. filename is used in error
// positions.
func CompileString(src, filename string) (*model.Model, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// LoadFile compiles the model declared in a single CUE file.
func LoadFile(path string) (*model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CompileError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	return CompileString(string(data), path)
}

// LoadDir compiles the model declared by the CUE package in dir.
func LoadDir(dir string) (*model.Model, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &CompileError{Code: ErrCodeNotFound, Message: fmt.Sprintf("model directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &CompileError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing model directory: %v", err)}
	}
	if !info.IsDir() {
		return LoadFile(dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &CompileError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &CompileError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &CompileError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(ErrCodeLoadFailed, inst.Err)
	}
	return Compile(cuecontext.New().BuildInstance(inst))
}

// FindCUEFiles returns the .cue files directly inside dir.
func FindCUEFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.cue"))
}

func eachField(v cue.Value, fn func(string, cue.Value) error) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(ErrCodeBuildFailed, err)
	}
	for iter.Next() {
		if err := fn(iter.Selector().Unquoted(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func entityFields(v cue.Value) ([]model.FieldDef, error) {
	var defs []model.FieldDef
	err := eachField(v.LookupPath(cue.ParsePath("key")), func(name string, fv cue.Value) error {
		vt, err := valueType(fv)
		if err != nil {
			return err
		}
		defs = append(defs, model.KeyField(name, vt))
		return nil
	})
	if err != nil {
		return nil, err
	}
	rest, err := declaredFields(v.LookupPath(cue.ParsePath("fields")))
	if err != nil {
		return nil, err
	}
	return append(defs, rest...), nil
}

func declaredFields(v cue.Value) ([]model.FieldDef, error) {
	var defs []model.FieldDef
	err := eachField(v, func(name string, fv cue.Value) error {
		d, err := fieldDef(name, fv)
		if err != nil {
			return err
		}
		defs = append(defs, d)
		return nil
	})
	return defs, err
}

// fieldDef converts one field declaration. The #Field disjunction has
// already been resolved, so exactly one of the shapes is present.
func fieldDef(name string, v cue.Value) (model.FieldDef, error) {
	if v.IncompleteKind() == cue.StringKind {
		vt, err := valueType(v)
		return model.PrimitiveField(name, vt), err
	}

	str := func(label string) (string, bool) {
		s, err := v.LookupPath(cue.ParsePath(label)).String()
		return s, err == nil
	}
	var d model.FieldDef
	switch {
	case has(v, "type"):
		vt, err := valueType(v.LookupPath(cue.ParsePath("type")))
		if err != nil {
			return d, err
		}
		d = model.PrimitiveField(name, vt)
	case has(v, "structure"):
		target, _ := str("structure")
		d = model.StructureField(name, target)
	case has(v, "reference"):
		target, _ := str("reference")
		d = model.ReferenceField(name, target)
	case has(v, "set"):
		target, _ := str("set")
		paired, _ := str("paired")
		d = model.SetField(name, target, paired)
	default:
		return d, &CompileError{Code: ErrCodeGeneric, Field: name, Message: "unrecognized field declaration", Pos: v.Pos()}
	}
	if opt := v.LookupPath(cue.ParsePath("optional")); opt.Exists() {
		if b, err := opt.Bool(); err == nil && b {
			d = d.Optional()
		}
	}
	return d, nil
}

func has(v cue.Value, label string) bool {
	return v.LookupPath(cue.ParsePath(label)).Exists()
}

func valueType(v cue.Value) (model.ValueType, error) {
	s, err := v.String()
	if err != nil {
		return 0, formatCUEError(ErrCodeInvalidType, err)
	}
	vt, ok := model.ParseValueType(s)
	if !ok {
		return 0, &CompileError{Code: ErrCodeInvalidType, Field: "type", Message: fmt.Sprintf("unknown value type %q", s), Pos: v.Pos()}
	}
	return vt, nil
}
