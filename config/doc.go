// Package config loads engine selection and binding defaults from YAML and
// the environment.
//
//	backend: auto            # auto, native, wasm or wordlevel
//	library_path: ./libtokenizers_sys.so
//	wasm_module: ./tokenizers.wasm
//	model_dir: ./models      # wordlevel pretrained lookup
//	call_timeout: 5s
//	log:
//	  level: warn
//	  format: console
//	encode:
//	  add_special_tokens: true
//	decode:
//	  skip_special_tokens: true
//
// Environment variables (TOKENIZERS_BACKEND, TOKENIZERS_LIB_PATH,
// TOKENIZERS_WASM, TOKENIZERS_MODEL_DIR, TOKENIZERS_LOG_LEVEL,
// TOKENIZERS_CALL_TIMEOUT) override the file. Relative paths in a file are
// resolved against the file's directory.
package config
