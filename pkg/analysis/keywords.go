package analysis

import "golang.org/x/text/cases"

// foldName returns the case-folded form VBA uses to compare identifiers.
// A Caser keeps state, so each call gets its own.
func foldName(name string) string {
	return cases.Fold().String(name)
}

var keywords = map[string]bool{}

func init() {
	for _, k := range []string{
		"AddressOf", "Alias", "And", "As", "Base", "Binary", "Boolean", "ByRef",
		"Byte", "ByVal", "Call", "Case", "Compare", "Const", "Currency", "Date",
		"Decimal", "Declare", "Dim", "Do", "Double", "Each", "Else", "ElseIf",
		"Empty", "End", "Enum", "Eqv", "Erase", "Error", "Event", "Exit",
		"Explicit", "False", "For", "Friend", "Function", "Get", "Global",
		"GoSub", "GoTo", "If", "Imp", "Implements", "In", "Integer", "Is",
		"Let", "Lib", "Like", "Long", "LongLong", "LongPtr", "Loop", "LSet",
		"Me", "Mod", "New", "Next", "Not", "Nothing", "Null", "Object", "On",
		"Option", "Optional", "Or", "ParamArray", "Preserve", "Private",
		"Property", "PtrSafe", "Public", "RaiseEvent", "ReDim", "Resume",
		"Return", "RSet", "Select", "Set", "Single", "Static", "Step", "Stop",
		"String", "Sub", "Then", "To", "True", "Type", "TypeOf", "Until",
		"Variant", "Wend", "While", "With", "WithEvents", "Xor",
	} {
		keywords[foldName(k)] = true
	}
}

func isKeyword(word string) bool {
	return keywords[foldName(word)]
}

func isModifier(t token) bool {
	return t.is("Private") || t.is("Public") || t.is("Global") || t.is("Friend")
}

func isProcedureKeyword(t token) bool {
	return t.is("Sub") || t.is("Function") || t.is("Property")
}
