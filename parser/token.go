package parser

// tokenKind identifies the lexical class of a token.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokStringIdent  // $foo, $foo*, or bare $
	tokStringCount  // #foo or #foo*
	tokStringOffset // @foo
	tokStringLen    // !foo
	tokString       // "quoted text"
	tokRegex        // /pattern/mods
	tokInt
	tokFloat
	tokHexByte
	tokHexWildcard
	tokHexMasked
	tokHexJump
	tokHexAltOpen

	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokColon
	tokComma
	tokDot
	tokDotDot
	tokAssign
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokAmp
	tokPipe
	tokCaret
	tokTilde
	tokShl
	tokShr
)

// token is a single lexical unit produced by the lexer.
type token struct {
	kind tokenKind
	text string // identifier/keyword text, or raw text for hex/regex tokens
	ival int64
	fval float64
	byt  byte
	pos  int
	line int
}

// keywordSet lists reserved words recognized in condition/rule-header
// context; everywhere else they are treated as plain identifiers.
var keywordSet = map[string]bool{
	"rule": true, "global": true, "private": true, "meta": true,
	"strings": true, "condition": true, "import": true, "include": true,
	"true": true, "false": true, "not": true, "and": true, "or": true,
	"at": true, "in": true, "of": true, "them": true, "any": true,
	"all": true, "for": true, "filesize": true, "entrypoint": true,
	"contains": true, "icontains": true, "startswith": true, "istartswith": true,
	"endswith": true, "iendswith": true, "matches": true, "defined": true,
}

var modifierWords = map[string]bool{
	"nocase": true, "wide": true, "ascii": true, "fullword": true,
	"base64": true, "base64wide": true, "xor": true, "private": true,
}
