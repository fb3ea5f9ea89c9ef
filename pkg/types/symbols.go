package types

import "strings"

// Declaration represents a named VBA symbol at one parse snapshot.
type Declaration struct {
	IdentifierName string
	AsTypeName     string
	TypeHint       string // Type-declaration character, as in s$
	Kind           DeclarationKind
	Accessibility  Accessibility
	Module         QualifiedModuleName
	ParentScope    string    // Scope id of the container (module or procedure)
	Selection      Selection // Selection of the declaring identifier
	Context        NodeID    // Identifier node in the module's syntax tree
	Attributes     []string  // WithEvents, New, array bounds
	References     []*Reference
}

type DeclarationKind int

const (
	ProjectDeclaration DeclarationKind = iota
	ModuleDeclaration
	ProcedureDeclaration
	FunctionDeclaration
	PropertyGetDeclaration
	PropertyLetDeclaration
	PropertySetDeclaration
	ParameterDeclaration
	VariableDeclaration
	ConstantDeclaration
)

// String returns the string representation of a DeclarationKind
func (k DeclarationKind) String() string {
	switch k {
	case ProjectDeclaration:
		return "Project"
	case ModuleDeclaration:
		return "Module"
	case ProcedureDeclaration:
		return "Procedure"
	case FunctionDeclaration:
		return "Function"
	case PropertyGetDeclaration:
		return "PropertyGet"
	case PropertyLetDeclaration:
		return "PropertyLet"
	case PropertySetDeclaration:
		return "PropertySet"
	case ParameterDeclaration:
		return "Parameter"
	case VariableDeclaration:
		return "Variable"
	case ConstantDeclaration:
		return "Constant"
	default:
		return "Unknown"
	}
}

// IsMember reports whether the kind introduces its own scope.
func (k DeclarationKind) IsMember() bool {
	switch k {
	case ProcedureDeclaration, FunctionDeclaration,
		PropertyGetDeclaration, PropertyLetDeclaration, PropertySetDeclaration:
		return true
	}
	return false
}

type Accessibility int

const (
	Implicit Accessibility = iota
	Private
	Public
	Friend
	Global
)

// String returns the string representation of an Accessibility
func (a Accessibility) String() string {
	switch a {
	case Implicit:
		return "Implicit"
	case Private:
		return "Private"
	case Public:
		return "Public"
	case Friend:
		return "Friend"
	case Global:
		return "Global"
	default:
		return "Unknown"
	}
}

// MemberScope returns the scope id introduced by a member declaration.
// Property accessors share a name, so their kind is appended.
func (d *Declaration) MemberScope() string {
	scope := d.ParentScope + "." + d.IdentifierName
	switch d.Kind {
	case PropertyGetDeclaration:
		return scope + ".Get"
	case PropertyLetDeclaration:
		return scope + ".Let"
	case PropertySetDeclaration:
		return scope + ".Set"
	}
	return scope
}

// QualifiedName returns the declaration name prefixed with its module.
func (d *Declaration) QualifiedName() string {
	return d.Module.String() + "." + d.IdentifierName
}

// IsModuleLevel reports whether the declaration lives directly in its module.
func (d *Declaration) IsModuleLevel() bool {
	return d.ParentScope == ModuleScope(d.Module)
}

// HasName compares identifiers the way VBA does, ignoring case.
func (d *Declaration) HasName(name string) bool {
	return strings.EqualFold(d.IdentifierName, name)
}

// AddReference records a use of the declaration.
func (d *Declaration) AddReference(ref *Reference) {
	ref.Declaration = d
	d.References = append(d.References, ref)
}

// Key returns the structural identity used to re-find the declaration after
// a reparse.
func (d *Declaration) Key() StructuralKey {
	return StructuralKey{
		ProjectID:      d.Module.ProjectID,
		ComponentName:  d.Module.ComponentName,
		IdentifierName: d.IdentifierName,
		ParentScope:    d.ParentScope,
		Selection:      d.Selection,
	}
}

// QualifiedSelection returns the declaring identifier's location.
func (d *Declaration) QualifiedSelection() QualifiedSelection {
	return QualifiedSelection{Module: d.Module, Selection: d.Selection}
}

// Reference represents where a declaration is used. The Declaration pointer
// is a back-reference and does not own the declaration.
type Reference struct {
	Declaration    *Declaration
	IdentifierName string
	Module         QualifiedModuleName
	Selection      Selection
	ParentScoping  string // Scope id of the enclosing procedure or module
	Context        NodeID // Identifier node in the module's syntax tree
}

// QualifiedSelection returns the reference's location.
func (r *Reference) QualifiedSelection() QualifiedSelection {
	return QualifiedSelection{Module: r.Module, Selection: r.Selection}
}

// StructuralKey re-identifies a declaration across exactly one reparse. Any
// edit that moves the declaring identifier invalidates the key.
type StructuralKey struct {
	ProjectID      string
	ComponentName  string
	IdentifierName string
	ParentScope    string
	Selection      Selection
}

// Matches reports whether d is the declaration the key was taken from.
func (k StructuralKey) Matches(d *Declaration) bool {
	return d.Module.ComponentName == k.ComponentName &&
		d.IdentifierName == k.IdentifierName &&
		d.ParentScope == k.ParentScope &&
		d.Module.ProjectID == k.ProjectID &&
		d.Selection == k.Selection
}

// ModuleScope returns the scope id of a module.
func ModuleScope(module QualifiedModuleName) string {
	return module.String()
}
