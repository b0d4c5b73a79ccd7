package scripted

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/Shopify/go-lua"
	"github.com/tiger/osss-validator/internal/rules"
)

const entryPoint = "evaluate"

// ErrNoEntryPoint is returned when a script does not define evaluate.
var ErrNoEntryPoint = errors.New("script does not define an evaluate function")

// Rule is a Lua-backed rule capability. The script defines a global function
// evaluate(ctx) returning a table with optional fields violations (list of
// strings or {message, subject, fixtures} tables), amount (number, defaults to
// the violation count) and explanation (string). Malformed fields are coerced
// and reported as output warnings. Each evaluation runs in a fresh
// interpreter state.
type Rule struct {
	id     string
	name   string
	source string
}

// Load reads and syntax-checks a script from path and binds it to id.
func Load(id, path string) (*Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule script %s: %w", path, err)
	}
	return New(id, filepath.Base(path), string(raw))
}

// New compiles source once to surface syntax errors at startup.
func New(id, name, source string) (*Rule, error) {
	if id == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if name == "" {
		name = id
	}
	r := &Rule{id: id, name: name, source: source}
	l := lua.NewState()
	if err := lua.LoadBuffer(l, source, "@"+name, ""); err != nil {
		return nil, fmt.Errorf("compile rule script %s: %w", name, err)
	}
	return r, nil
}

func (r *Rule) ID() string { return r.id }

// UsesTime is always true: a script may read any slot field.
func (r *Rule) UsesTime() bool { return true }

func (r *Rule) Evaluate(ctx context.Context, in rules.Input) (rules.Output, error) {
	if err := ctx.Err(); err != nil {
		return rules.Output{}, err
	}

	l := lua.NewState()
	lua.OpenLibraries(l)
	if err := lua.LoadBuffer(l, r.source, "@"+r.name, ""); err != nil {
		return rules.Output{}, fmt.Errorf("load %s: %w", r.name, err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return rules.Output{}, fmt.Errorf("run %s: %w", r.name, err)
	}
	l.Global(entryPoint)
	if !l.IsFunction(-1) {
		l.Pop(1)
		return rules.Output{}, fmt.Errorf("%s: %w", r.name, ErrNoEntryPoint)
	}
	pushContext(l, in)
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		return rules.Output{}, fmt.Errorf("%s: evaluate: %w", r.name, err)
	}
	defer l.Pop(1)
	if l.TypeOf(-1) != lua.TypeTable {
		return rules.Output{
			Warnings: []string{fmt.Sprintf("%s: evaluate returned %s instead of a table; treated as no violations", r.name, lua.TypeNameOf(l, -1))},
		}, nil
	}
	return readOutput(l, -1, r.name), nil
}

func pushContext(l *lua.State, in rules.Input) {
	l.NewTable()
	l.PushString(in.RuleID)
	l.SetField(-2, "ruleId")
	l.PushString(in.ConstraintID)
	l.SetField(-2, "constraintId")
	l.PushString(string(in.Type))
	l.SetField(-2, "type")
	pushValue(l, in.Params)
	l.SetField(-2, "params")
	if in.Location != nil {
		l.PushString(in.Location.String())
		l.SetField(-2, "timezone")
	}

	l.NewTable()
	for i, slot := range in.View.Slots {
		l.NewTable()
		l.PushString(slot.Assignment.FixtureID)
		l.SetField(-2, "fixtureId")
		l.PushString(slot.Assignment.VenueID)
		l.SetField(-2, "venueId")
		l.PushString(slot.Assignment.ResourceID)
		l.SetField(-2, "resourceId")
		l.PushBoolean(slot.Valid)
		l.SetField(-2, "valid")
		if slot.Valid {
			l.PushNumber(float64(slot.StartMS))
			l.SetField(-2, "start")
			l.PushNumber(float64(slot.EndMS))
			l.SetField(-2, "end")
		}
		l.PushString(slot.Weekday)
		l.SetField(-2, "weekday")
		l.PushString(slot.HHMM)
		l.SetField(-2, "hhmm")
		var participants []string
		if f, ok := in.View.Fixture(slot); ok {
			participants = f.Teams()
			l.PushString(f.Home())
			l.SetField(-2, "home")
			l.PushString(f.Away())
			l.SetField(-2, "away")
		}
		pushStrings(l, participants)
		l.SetField(-2, "participants")
		l.RawSetInt(-2, i+1)
	}
	l.SetField(-2, "slots")

	var teams []string
	for _, id := range in.View.TeamOrder {
		if in.View.InScopeTeam(id) {
			teams = append(teams, id)
		}
	}
	pushStrings(l, teams)
	l.SetField(-2, "teams")
}

func pushStrings(l *lua.State, values []string) {
	l.NewTable()
	for i, v := range values {
		l.PushString(v)
		l.RawSetInt(-2, i+1)
	}
}

func pushValue(l *lua.State, v any) {
	switch value := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(value)
	case string:
		l.PushString(value)
	case float64:
		l.PushNumber(value)
	case float32:
		l.PushNumber(float64(value))
	case int:
		l.PushInteger(value)
	case int64:
		l.PushNumber(float64(value))
	case []string:
		pushStrings(l, value)
	case []any:
		l.NewTable()
		for i, item := range value {
			pushValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.NewTable()
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pushValue(l, value[k])
			l.SetField(-2, k)
		}
	default:
		l.PushString(fmt.Sprint(value))
	}
}

func readOutput(l *lua.State, index int, name string) rules.Output {
	index = l.AbsIndex(index)
	var out rules.Output
	warn := func(format string, args ...any) {
		out.Warnings = append(out.Warnings, name+": "+fmt.Sprintf(format, args...))
	}

	l.Field(index, "violations")
	switch l.TypeOf(-1) {
	case lua.TypeTable:
		n := lua.LengthEx(l, -1)
		for i := 1; i <= n; i++ {
			l.RawGetInt(-1, i)
			v, ok := readViolation(l, -1)
			if !ok {
				warn("violations[%d] is %s without a message; skipped", i, lua.TypeNameOf(l, -1))
			} else {
				out.Violations = append(out.Violations, v)
			}
			l.Pop(1)
		}
	case lua.TypeNil:
	default:
		warn("violations is %s instead of a list; treated as empty", lua.TypeNameOf(l, -1))
	}
	l.Pop(1)

	out.Amount = float64(len(out.Violations))
	l.Field(index, "amount")
	switch l.TypeOf(-1) {
	case lua.TypeNil:
	case lua.TypeNumber:
		amount, _ := l.ToNumber(-1)
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			warn("amount is not finite; treated as 0")
			amount = 0
		}
		out.Amount = amount
	default:
		warn("amount is %s instead of a number; treated as 0", lua.TypeNameOf(l, -1))
		out.Amount = 0
	}
	l.Pop(1)

	l.Field(index, "explanation")
	if l.TypeOf(-1) == lua.TypeString {
		out.Explanation, _ = l.ToString(-1)
	}
	l.Pop(1)
	return out
}

// readViolation accepts a string or a table with a non-empty message.
func readViolation(l *lua.State, index int) (rules.Violation, bool) {
	index = l.AbsIndex(index)
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return rules.Violation{Message: s}, s != ""
	case lua.TypeTable:
		var v rules.Violation
		l.Field(index, "message")
		if l.TypeOf(-1) == lua.TypeString {
			v.Message, _ = l.ToString(-1)
		}
		l.Pop(1)
		if v.Message == "" {
			return rules.Violation{}, false
		}
		l.Field(index, "subject")
		if l.TypeOf(-1) == lua.TypeString {
			v.Subject, _ = l.ToString(-1)
		}
		l.Pop(1)
		l.Field(index, "fixtures")
		if l.TypeOf(-1) == lua.TypeTable {
			n := lua.LengthEx(l, -1)
			for i := 1; i <= n; i++ {
				l.RawGetInt(-1, i)
				if l.TypeOf(-1) == lua.TypeString {
					s, _ := l.ToString(-1)
					v.Fixtures = append(v.Fixtures, s)
				}
				l.Pop(1)
			}
		}
		l.Pop(1)
		return v, true
	default:
		return rules.Violation{}, false
	}
}
