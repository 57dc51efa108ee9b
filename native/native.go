package native

// Handle is an opaque reference to an engine-side object.
// Handle 0 is reserved and always means "no object".
type Handle uint64

// Field selects one of the integer sequences of an encoding.
type Field uint8

const (
	FieldIDs Field = iota
	FieldTypeIDs
	FieldSpecialTokensMask
	FieldAttentionMask
)

// String returns the field name used in error messages.
func (f Field) String() string {
	switch f {
	case FieldIDs:
		return "ids"
	case FieldTypeIDs:
		return "type ids"
	case FieldSpecialTokensMask:
		return "special tokens mask"
	case FieldAttentionMask:
		return "attention mask"
	default:
		return "unknown field"
	}
}

// Symbol returns the C symbol that reads the field.
func (f Field) Symbol() string {
	switch f {
	case FieldIDs:
		return SymEncodingGetIDs
	case FieldTypeIDs:
		return SymEncodingGetTypeIDs
	case FieldSpecialTokensMask:
		return SymEncodingGetSpecialMask
	case FieldAttentionMask:
		return SymEncodingGetAttentionMask
	default:
		return ""
	}
}

// Offset is a byte range [Start, End) into the encoded text.
type Offset struct {
	Start uint64
	End   uint64
}

// Params carries the optional from-pretrained arguments.
// Empty strings are passed to the engine as null.
type Params struct {
	Revision string
	Token    string
}

// Library is the engine's C ABI expressed with Go boundary types.
//
// Implementations marshal arguments, invoke the engine and copy results out of
// engine-owned memory before returning. Failure is signaled the way the engine
// signals it: a zero Handle or a false ok. Callers translate those sentinels
// into errors.
//
// A Library is not required to be safe for concurrent calls on the same handle.
type Library interface {
	// Name identifies the backend in logs.
	Name() string

	FromPretrained(name string, params Params) Handle
	FromFile(path string) Handle
	FromBuffer(data []byte) Handle

	Encode(tokenizer Handle, text string, addSpecialTokens bool) Handle
	// Decode must not be called with an empty ids slice.
	Decode(tokenizer Handle, ids []uint32, skipSpecialTokens bool) (string, bool)

	Length(encoding Handle) int
	Uint32s(encoding Handle, field Field) ([]uint32, bool)
	Tokens(encoding Handle) ([]string, bool)
	Offsets(encoding Handle) ([]Offset, bool)

	FreeTokenizer(tokenizer Handle)
	FreeEncoding(encoding Handle)

	// Close unloads the library. Handles must not be used afterwards.
	Close() error
}

// C symbols exported by the engine.
const (
	SymFromPretrained           = "tokenizer_from_pretrained"
	SymFromFile                 = "tokenizer_from_file"
	SymFromBuffer               = "tokenizer_from_buffer"
	SymEncode                   = "tokenizer_encode"
	SymDecode                   = "tokenizer_decode"
	SymTokenizerFree            = "tokenizer_free"
	SymFreeRString              = "free_rstring"
	SymEncodingFree             = "encoding_free"
	SymEncodingGetLength        = "encoding_get_length"
	SymEncodingGetIDs           = "encoding_get_ids"
	SymEncodingGetTokens        = "encoding_get_tokens"
	SymEncodingGetTypeIDs       = "encoding_get_type_ids"
	SymEncodingGetSpecialMask   = "encoding_get_special_tokens_mask"
	SymEncodingGetAttentionMask = "encoding_get_attention_mask"
	SymEncodingGetOffsets       = "encoding_get_offsets"
	SymFreeCCharArray           = "free_c_char_array"
)

// Symbols lists every symbol a complete engine exports.
var Symbols = []string{
	SymFromPretrained,
	SymFromFile,
	SymFromBuffer,
	SymEncode,
	SymDecode,
	SymTokenizerFree,
	SymFreeRString,
	SymEncodingFree,
	SymEncodingGetLength,
	SymEncodingGetIDs,
	SymEncodingGetTokens,
	SymEncodingGetTypeIDs,
	SymEncodingGetSpecialMask,
	SymEncodingGetAttentionMask,
	SymEncodingGetOffsets,
	SymFreeCCharArray,
}
