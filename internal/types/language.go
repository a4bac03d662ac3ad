package types

import "strings"

// Language identifies the source language of a document using the identifier
// the editor supplied (e.g. "c", "cpp", "objective-c", "swift").
type Language string

// Known language identifiers.
const (
	LanguageC            Language = "c"
	LanguageCPP          Language = "cpp"
	LanguageObjectiveC   Language = "objective-c"
	LanguageObjectiveCPP Language = "objective-cpp"
	LanguageSwift        Language = "swift"
)

// headerDialectFlags maps each C-family language onto the driver flag that
// forces the correct dialect when a header is compiled stand-alone.
var headerDialectFlags = map[Language]string{
	LanguageC:            "-xc-header",
	LanguageCPP:          "-xc++-header",
	LanguageObjectiveC:   "-xobjective-c-header",
	LanguageObjectiveCPP: "-xobjective-c++-header",
}

// IsCFamily reports whether the language belongs to the C family.
func (l Language) IsCFamily() bool {
	_, ok := headerDialectFlags[l]
	return ok
}

// HeaderDialectFlag returns the "-x" driver flag for compiling a header of
// this language, or the empty string for non-C-family languages.
func (l Language) HeaderDialectFlag() string {
	return headerDialectFlags[l]
}

// headerExtensions are file extensions treated as headers rather than
// translation units.
var headerExtensions = map[string]bool{
	".h":   true,
	".hh":  true,
	".hpp": true,
	".hxx": true,
	".def": true,
}

// IsHeaderFile reports whether the URI names a header file based on its
// extension.
func IsHeaderFile(uri DocumentURI) bool {
	return headerExtensions[strings.ToLower(uri.Extension())]
}
