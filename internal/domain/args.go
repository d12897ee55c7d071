package domain

// Tool arguments. The struct tags drive both decoding of tools/call arguments
// and the JSON schema advertised by tools/list.

// EvalArgs are the arguments of eval-clojure.
type EvalArgs struct {
	Code string `json:"code" jsonschema:"required" jsonschema_description:"Clojure code to evaluate in the current namespace"`
}

// LoadFileArgs are the arguments of load-file.
type LoadFileArgs struct {
	FilePath string `json:"file-path" jsonschema:"required" jsonschema_description:"Path of the Clojure source file to load"`
}

// SetNSArgs are the arguments of set-ns.
type SetNSArgs struct {
	Namespace string `json:"namespace" jsonschema:"required" jsonschema_description:"Namespace to require and make current"`
}

// AproposArgs are the arguments of apropos.
type AproposArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"Substring or regular expression to search symbol names for"`
}
