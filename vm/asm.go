package vm

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Assembler translates the mnemonic text form of a program into a *Program,
// adapted from the teacher's CompileSourceFromBuffer/preprocessLine/
// parseInputLine pipeline (vm/compile.go): strip comments, recognize
// `label:` lines, split an instruction line into mnemonic plus up to three
// operand tokens, and convert each token per the opcode's descriptor row
// instead of the teacher's uniform uint32 argument.
//
// One line is one instruction: `mnemonic [op1] [op2] [dest]`, operands given
// in that order, skipping any the descriptor marks Unused. A line ending in
// `:` introduces a label instead. MOV_STRING's operand is the one case with
// embedded whitespace, so it must be quoted.
var commentPattern = regexp.MustCompile(`//.*`)

var escapeSeqReplacements = map[string]string{
	`\a`: "\a", `\b`: "\b", `\t`: "\t", `\n`: "\n",
	`\r`: "\r", `\f`: "\f", `\v`: "\v", `\"`: `"`,
}

func insertEscapeSeqReplacements(s string) string {
	for orig, replace := range escapeSeqReplacements {
		s = strings.ReplaceAll(s, orig, replace)
	}
	return s
}

// AssembleFile reads and assembles the named source files in order, the
// first file's first instruction being the first instruction executed.
func AssembleFile(paths ...string) (*Program, error) {
	var lines []string
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}
	return Assemble(lines)
}

// Assemble converts a buffer of source lines into a Program.
func Assemble(lines []string) (*Program, error) {
	program := NewProgram()
	for lineNo, raw := range lines {
		line := commentPattern.ReplaceAllString(raw, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") {
			label := strings.TrimSuffix(line, ":")
			if strings.ContainsFunc(label, unicode.IsSpace) || label == "" {
				return nil, errors.Errorf("line %d: invalid label %q", lineNo+1, line)
			}
			program.AddLabel(label)
			continue
		}
		instr, err := parseInstructionLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo+1)
		}
		program.AddInstruction(instr)
	}
	return program, nil
}

func parseInstructionLine(line string) (*Instruction, error) {
	mnemonic, rest := splitFirstToken(line)
	op, ok := namesToOpcode[mnemonic]
	if !ok {
		return nil, errors.Errorf("unknown mnemonic %q", mnemonic)
	}
	d, ok := op.descriptor()
	if !ok {
		return nil, errors.Errorf("opcode %s has no descriptor", op)
	}

	instr := newInstruction(op)
	slots := []struct {
		kind OperandKind
		slot operandSlot
	}{
		{d.Op1Type, slotOp1},
		{d.Op2Type, slotOp2},
		{d.DestType, slotDest},
	}
	for _, s := range slots {
		if s.kind == Unused {
			continue
		}
		var token string
		token, rest = nextOperandToken(rest, s.kind)
		if token == "" {
			return nil, errors.Errorf("%s: missing operand", mnemonic)
		}
		if err := applyOperand(instr, s.kind, s.slot, token); err != nil {
			return nil, errors.Wrapf(err, "%s operand %q", mnemonic, token)
		}
	}
	return instr, nil
}

// operandSlot identifies which of an instruction's op1/op2/dest fields a
// parsed token fills; an instruction can have up to three, each
// independently typed per its descriptor row.
type operandSlot int

const (
	slotOp1 operandSlot = iota
	slotOp2
	slotDest
)

func applyOperand(instr *Instruction, kind OperandKind, slot operandSlot, token string) error {
	switch kind {
	case ImmString:
		s, err := parseQuotedString(token)
		if err != nil {
			return err
		}
		switch slot {
		case slotOp1:
			instr.Op1String = insertEscapeSeqReplacements(s)
		default:
			return errors.New("string operand only supported in op1")
		}
		return nil
	case ImmDecimal:
		f, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return err
		}
		switch slot {
		case slotOp1:
			instr.Op1Decimal = f
		default:
			return errors.New("decimal operand only supported in op1")
		}
		return nil
	case ImmAddress:
		switch slot {
		case slotOp1:
			instr.Op1Label = token
		case slotDest:
			instr.DestLabel = token
		default:
			return errors.New("address operand only supported in op1/dest")
		}
		return nil
	default: // ImmInt, Index: a plain integer constant or slot index
		n, err := parseIntToken(token)
		if err != nil {
			return err
		}
		switch slot {
		case slotOp1:
			instr.Op1 = n
		case slotOp2:
			instr.Op2 = n
		case slotDest:
			instr.Dest = n
		}
		return nil
	}
}

func parseIntToken(token string) (uint64, error) {
	base := 10
	t := token
	neg := false
	if strings.HasPrefix(t, "-") {
		neg = true
		t = t[1:]
	}
	if strings.HasPrefix(t, "0x") {
		base = 16
		t = t[2:]
	}
	if neg {
		v, err := strconv.ParseInt("-"+t, base, 64)
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}
	v, err := strconv.ParseUint(t, base, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func parseQuotedString(token string) (string, error) {
	if len(token) < 2 || token[0] != '"' || token[len(token)-1] != '"' {
		return "", errors.Errorf("expected quoted string, got %q", token)
	}
	return token[1 : len(token)-1], nil
}

// splitFirstToken returns the first whitespace-delimited token and the
// (trimmed) remainder of the line.
func splitFirstToken(line string) (string, string) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.TrimSpace(fields[1])
}

// nextOperandToken extracts the next operand, honoring quoted strings (which
// may contain spaces) for ImmString and otherwise splitting on whitespace.
func nextOperandToken(rest string, kind OperandKind) (string, string) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", ""
	}
	if kind == ImmString && strings.HasPrefix(rest, `"`) {
		end := strings.Index(rest[1:], `"`)
		if end < 0 {
			return rest, ""
		}
		end += 1
		token := rest[:end+1]
		remainder := strings.TrimSpace(rest[end+1:])
		return token, remainder
	}
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.TrimSpace(fields[1])
}

// Disassemble renders a program's resolved instruction stream as mnemonic
// text, one instruction per line prefixed with its index, with jump and
// function targets shown as the instruction indices they resolved to. It is
// used by the CLI's disasm and debug subcommands; Assemble does not accept
// the listing back as input.
func Disassemble(p *Program) string {
	var b strings.Builder
	for i, instr := range p.ResolvedInstructions() {
		fmt.Fprintf(&b, "%4d: %s\n", i, instr.String())
	}
	return b.String()
}
