// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package schema implements the Schema Registry (S): it loads the
// platform's field catalog once and answers resource- and
// property-path lookups for the Query Editor and Row Parser.
package schema

import (
	"context"
	"fmt"
	"sync"

	yaml "github.com/goccy/go-yaml"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/googleapis/ads-report-fetcher/internal/util"
)

// FieldDescriptor describes one field: its kind (primitive scalar, enum,
// or struct/message), its repeated-ness, and — for enum/struct kinds —
// the registry key of the referenced type.
type FieldDescriptor struct {
	Kind     protoreflect.Kind
	TypeName string
	Repeated bool
}

// Primitive constructs a scalar field descriptor of the given kind.
func Primitive(kind protoreflect.Kind, repeated bool) FieldDescriptor {
	return FieldDescriptor{Kind: kind, Repeated: repeated}
}

func (f FieldDescriptor) IsPrimitive() bool {
	switch f.Kind {
	case protoreflect.StringKind, protoreflect.Int32Kind, protoreflect.Int64Kind,
		protoreflect.FloatKind, protoreflect.DoubleKind, protoreflect.BoolKind:
		return true
	default:
		return false
	}
}

func (f FieldDescriptor) IsEnum() bool   { return f.Kind == protoreflect.EnumKind }
func (f FieldDescriptor) IsStruct() bool { return f.Kind == protoreflect.MessageKind }

// StructDescriptor is the resolved shape of a resource or common type:
// its field names mapped to their descriptors.
type StructDescriptor struct {
	Name   string
	Fields map[string]FieldDescriptor
}

// EnumDescriptor maps an enum's numeric wire values to their names.
type EnumDescriptor struct {
	Name   string
	Values map[int64]string
}

// catalogDocument is the on-disk shape loaded via goccy/go-yaml; it
// stands in for the platform's compiled protobuf descriptor set.
type catalogDocument struct {
	Resources []catalogType `yaml:"resources"`
	Commons   []catalogType `yaml:"commons"`
	Enums     []catalogEnum `yaml:"enums"`
	Row       catalogType   `yaml:"row"`
}

type catalogType struct {
	Name   string         `yaml:"name"`
	Fields []catalogField `yaml:"fields"`
}

type catalogField struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // string|int32|int64|float|double|bool|enum|struct
	Type     string `yaml:"type"` // registry key, only for kind=enum|struct
	Repeated bool   `yaml:"repeated"`
}

type catalogEnum struct {
	Name   string           `yaml:"name"`
	Values map[string]int64 `yaml:"values"`
}

// Registry resolves resource names and property paths against the
// loaded catalog. It is built once per process and is safe for
// concurrent read access; resource lookups are memoized behind a mutex.
type Registry struct {
	resources map[string]*StructDescriptor
	commons   map[string]*StructDescriptor
	enums     map[string]*EnumDescriptor
	row       *StructDescriptor

	mu            sync.Mutex
	resourceCache map[string]*StructDescriptor
}

// Load reads a catalog document (YAML) from decoder and builds a Registry.
// It is intended to be called once at process start.
func Load(ctx context.Context, decoder *yaml.Decoder) (*Registry, error) {
	var doc catalogDocument
	if err := decoder.DecodeContext(ctx, &doc); err != nil {
		return nil, fmt.Errorf("decoding schema catalog: %w", err)
	}

	reg := &Registry{
		resources:     make(map[string]*StructDescriptor),
		commons:       make(map[string]*StructDescriptor),
		enums:         make(map[string]*EnumDescriptor),
		resourceCache: make(map[string]*StructDescriptor),
	}

	for _, e := range doc.Enums {
		ed := &EnumDescriptor{Name: e.Name, Values: make(map[int64]string, len(e.Values))}
		for name, v := range e.Values {
			ed.Values[v] = name
		}
		reg.enums[e.Name] = ed
	}
	for _, t := range doc.Resources {
		sd, err := reg.buildStruct(t)
		if err != nil {
			return nil, err
		}
		reg.resources[t.Name] = sd
	}
	for _, t := range doc.Commons {
		sd, err := reg.buildStruct(t)
		if err != nil {
			return nil, err
		}
		reg.commons[t.Name] = sd
	}
	row, err := reg.buildStruct(doc.Row)
	if err != nil {
		return nil, err
	}
	reg.row = row

	return reg, nil
}

func (r *Registry) buildStruct(t catalogType) (*StructDescriptor, error) {
	sd := &StructDescriptor{Name: t.Name, Fields: make(map[string]FieldDescriptor, len(t.Fields))}
	for _, f := range t.Fields {
		fd, err := fieldDescriptorFromCatalog(f)
		if err != nil {
			return nil, fmt.Errorf("type %q field %q: %w", t.Name, f.Name, err)
		}
		sd.Fields[f.Name] = fd
	}
	return sd, nil
}

func fieldDescriptorFromCatalog(f catalogField) (FieldDescriptor, error) {
	switch f.Kind {
	case "string":
		return FieldDescriptor{Kind: protoreflect.StringKind, Repeated: f.Repeated}, nil
	case "int32":
		return FieldDescriptor{Kind: protoreflect.Int32Kind, Repeated: f.Repeated}, nil
	case "int64":
		return FieldDescriptor{Kind: protoreflect.Int64Kind, Repeated: f.Repeated}, nil
	case "float":
		return FieldDescriptor{Kind: protoreflect.FloatKind, Repeated: f.Repeated}, nil
	case "double":
		return FieldDescriptor{Kind: protoreflect.DoubleKind, Repeated: f.Repeated}, nil
	case "bool":
		return FieldDescriptor{Kind: protoreflect.BoolKind, Repeated: f.Repeated}, nil
	case "enum":
		return FieldDescriptor{Kind: protoreflect.EnumKind, TypeName: f.Type, Repeated: f.Repeated}, nil
	case "struct":
		return FieldDescriptor{Kind: protoreflect.MessageKind, TypeName: f.Type, Repeated: f.Repeated}, nil
	default:
		return FieldDescriptor{}, fmt.Errorf("unrecognized field kind %q", f.Kind)
	}
}

// GetResource resolves name against the top-level row type and returns
// the struct descriptor of the resource. It fails with UnknownResource
// if name is not a field of the row type.
func (r *Registry) GetResource(name string) (*StructDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.resourceCache[name]; ok {
		return cached, nil
	}

	fd, ok := r.row.Fields[name]
	if !ok || !fd.IsStruct() {
		return nil, util.NewQueryError(util.KindUnknownResource, fmt.Sprintf("unknown resource %q", name), nil)
	}
	sd, err := r.structByTypeName(fd.TypeName)
	if err != nil {
		return nil, err
	}
	r.resourceCache[name] = sd
	return sd, nil
}

// StructByTypeName resolves a registry type name (resource or common) to
// its struct descriptor, bypassing the row-type indirection GetResource
// uses. Callers that already hold a FieldDescriptor's TypeName — e.g. to
// look inside a repeated struct field without tripping GetFieldType's
// repeated-mid-path guard — use this directly.
func (r *Registry) StructByTypeName(name string) (*StructDescriptor, error) {
	return r.structByTypeName(name)
}

func (r *Registry) structByTypeName(name string) (*StructDescriptor, error) {
	if sd, ok := r.resources[name]; ok {
		return sd, nil
	}
	if sd, ok := r.commons[name]; ok {
		return sd, nil
	}
	return nil, util.NewQueryError(util.KindInvalidFieldPath, fmt.Sprintf("unknown struct type %q", name), nil)
}

// GetFieldType walks path segment-by-segment starting at base and
// returns the descriptor of the final segment. An absent leaf segment
// is unknown-forward-compatible and resolves to a plain string scalar.
// An absent intermediate segment, a primitive/enum intermediate
// segment, or a repeated field appearing mid-path all fail with
// InvalidFieldPath.
func (r *Registry) GetFieldType(base *StructDescriptor, path []string) (FieldDescriptor, error) {
	if len(path) == 0 {
		return FieldDescriptor{}, util.NewQueryError(util.KindInvalidFieldPath, "empty field path", nil)
	}

	current := base
	for i, seg := range path {
		last := i == len(path)-1
		fd, ok := current.Fields[seg]
		if !ok {
			if last {
				return FieldDescriptor{Kind: protoreflect.StringKind}, nil
			}
			return FieldDescriptor{}, util.NewQueryError(util.KindInvalidFieldPath,
				fmt.Sprintf("unknown field %q in path %v", seg, path), nil)
		}
		if last {
			return fd, nil
		}
		if fd.Repeated {
			return FieldDescriptor{}, util.NewQueryError(util.KindInvalidFieldPath,
				fmt.Sprintf("repeated field %q cannot appear mid-path in %v", seg, path), nil)
		}
		if !fd.IsStruct() {
			return FieldDescriptor{}, util.NewQueryError(util.KindInvalidFieldPath,
				fmt.Sprintf("intermediate field %q in path %v is not a struct", seg, path), nil)
		}
		next, err := r.structByTypeName(fd.TypeName)
		if err != nil {
			return FieldDescriptor{}, err
		}
		current = next
	}
	// unreachable: the loop always returns on its last iteration.
	return FieldDescriptor{}, util.NewQueryError(util.KindInvalidFieldPath, "empty field path", nil)
}

// GetEnum returns the enum descriptor for typeName, used by the Row
// Parser to resolve numeric enum values to names.
func (r *Registry) GetEnum(typeName string) (*EnumDescriptor, bool) {
	ed, ok := r.enums[typeName]
	return ed, ok
}

// IsConstantResource reports whether a resource name designates a
// constant (account-independent) resource: one whose name ends in
// "_constant".
func IsConstantResource(name string) bool {
	const suffix = "_constant"
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}
