package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"google.golang.org/genai"

	"github.com/calyptra/sage/internal/log"
)

// CalcToolName is the calculator's registered name.
const CalcToolName = "calculate"

// CalcTool evaluates mathematical expressions. Pure computation, no external
// calls.
type CalcTool struct {
	logger log.Logger
}

// NewCalcTool creates the calculator tool.
func NewCalcTool(logger log.Logger) *CalcTool {
	return &CalcTool{logger: logger}
}

// Name implements Tool.
func (t *CalcTool) Name() string { return CalcToolName }

// Declaration implements Tool.
func (t *CalcTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        CalcToolName,
		Description: "Evaluates a mathematical expression. Use for calculations, equations, or numeric operations.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"expression": {
					Type:        genai.TypeString,
					Description: `The expression to evaluate, e.g. "2 * (3 + 4)", "sqrt(16)", "cos(pi / 4)"`,
				},
			},
			Required: []string{"expression"},
		},
	}
}

// mathEnv is the evaluation environment: the usual constants and functions,
// nothing that can reach outside the process.
var mathEnv = map[string]any{
	"pi":    math.Pi,
	"e":     math.E,
	"sqrt":  math.Sqrt,
	"cbrt":  math.Cbrt,
	"pow":   math.Pow,
	"log":   math.Log,
	"log2":  math.Log2,
	"log10": math.Log10,
	"exp":   math.Exp,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"round": math.Round,
	"mod":   math.Mod,
}

// Execute implements Tool. Evaluation failures come back as readable text,
// never as an error.
func (t *CalcTool) Execute(_ context.Context, args map[string]any) string {
	expression, ok := stringArg(args, "expression")
	if !ok || expression == "" {
		return "I need a mathematical expression to evaluate."
	}

	out, err := expr.Eval(expression, mathEnv)
	if err != nil {
		t.logger.Debug("expression evaluation failed", "expression", expression, "error", err)
		return fmt.Sprintf("I couldn't evaluate %q. Please check that it's a valid mathematical expression.", expression)
	}

	return fmt.Sprintf("The result of %q is %v", expression, out)
}
