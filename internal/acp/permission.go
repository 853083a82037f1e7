package acp

import (
	"path/filepath"
	"strings"
)

// OpType classifies what a tool operation does, for permission purposes
// (spec §4.3). It is derived from ToolKind but kept distinct since not every
// ToolKind maps to a permission-relevant op (e.g. think, fetch).
type OpType string

const (
	OpRead    OpType = "read"
	OpEdit    OpType = "edit"
	OpDelete  OpType = "delete"
	OpMove    OpType = "move"
	OpSearch  OpType = "search"
	OpExecute OpType = "execute"
	OpOther   OpType = "other"
)

func opTypeForKind(k ToolKind) OpType {
	switch k {
	case ToolKindRead:
		return OpRead
	case ToolKindEdit:
		return OpEdit
	case ToolKindDelete:
		return OpDelete
	case ToolKindMove:
		return OpMove
	case ToolKindSearch:
		return OpSearch
	case ToolKindExecute:
		return OpExecute
	default:
		return OpOther
	}
}

// dangerousCommands is the fixed danger list checked against execute ops
// (spec §4.3).
var dangerousCommands = map[string]bool{
	"rm": true, "sudo": true, "chmod": true, "chown": true,
	"mv": true, "cp": true, "dd": true,
}

// ToolOperation is the tagged-sum description of one tool invocation the
// permission broker classifies (spec §9's "tagged sum type for tool
// operations" design note). Unknown fields of the underlying tool call stay
// in RawInput and are never introspected here.
type ToolOperation struct {
	ToolName      string
	OpType        OpType
	AffectedPaths []string
	Command       string // full command string, if OpType == OpExecute
}

// PermissionDecision is the broker's verdict for a ToolOperation.
type PermissionDecision struct {
	Allow               bool
	RequiresConfirmation bool
	Options             []PermissionOption
}

// PermissionBroker classifies tool operations and decides whether host
// confirmation is required (C3, spec §4.3).
type PermissionBroker struct{}

func NewPermissionBroker() *PermissionBroker { return &PermissionBroker{} }

// Classify applies the mode short-circuit and requires-confirmation rules in
// the order mandated by the spec (§4.3), returning a decision. sessionCWD
// anchors the path-containment check. When RequiresConfirmation is true,
// Allow is meaningless until the caller resolves the host's outcome via
// ResolveOutcome.
func (b *PermissionBroker) Classify(mode PermissionMode, op ToolOperation, sessionCWD string) PermissionDecision {
	if mode == PermissionBypassPermissions {
		return PermissionDecision{Allow: true}
	}
	if mode == PermissionAcceptEdits && (op.OpType == OpRead || op.OpType == OpSearch) {
		return PermissionDecision{Allow: true}
	}

	requires := op.OpType == OpDelete ||
		(op.OpType == OpExecute && commandIsDangerous(op.Command))
	if !requires {
		for _, p := range op.AffectedPaths {
			if pathEscapesRoot(p, sessionCWD) {
				requires = true
				break
			}
		}
	}

	if !requires {
		return PermissionDecision{Allow: true}
	}
	return PermissionDecision{
		Allow:                false,
		RequiresConfirmation: true,
		Options:              optionsForOp(op),
	}
}

func commandIsDangerous(command string) bool {
	for _, tok := range strings.Fields(command) {
		tok = strings.TrimLeft(tok, "./")
		if dangerousCommands[tok] {
			return true
		}
	}
	return false
}

// pathEscapesRoot reports whether an absolute path is not lexically
// contained within root after normalization (spec §4.3.3).
func pathEscapesRoot(path, root string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	cleanPath := filepath.Clean(path)
	cleanRoot := filepath.Clean(root)
	if cleanPath == cleanRoot {
		return false
	}
	rel, err := filepath.Rel(cleanRoot, cleanPath)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// optionsForOp builds the option list for a confirmation request. allow_once,
// reject_once, reject_always are always present; allow_always is included
// unless the op is a delete (spec §4.3.4).
func optionsForOp(op ToolOperation) []PermissionOption {
	opts := []PermissionOption{
		{OptionID: "allow_once", Kind: "allow_once"},
	}
	if op.OpType != OpDelete {
		opts = append(opts, PermissionOption{OptionID: "allow_always", Kind: "allow_always"})
	}
	opts = append(opts,
		PermissionOption{OptionID: "reject_once", Kind: "reject_once"},
		PermissionOption{OptionID: "reject_always", Kind: "reject_always"},
	)
	return opts
}

// ResolveOutcome interprets the host's permission-request response
// (spec §4.3.5): cancelled denies without error; selected allows iff the
// chosen option kind is allow_once or allow_always.
func ResolveOutcome(outcome PermissionOutcome) bool {
	if outcome.Outcome != "selected" {
		return false
	}
	return outcome.OptionID == "allow_once" || outcome.OptionID == "allow_always"
}
