// internal/service/seckill/infrastructure/rule/cel_engine.go
package rule

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"flashmart/internal/service/seckill/domain/port"
)

// CELEngine 用一条 CEL 表达式做下单资格判定。
// 表达式来自配置，运营可以在不发版的情况下调整风控口径，
// 例如 "quantity > 0 && quantity <= 5 && !is_blocked"。
type CELEngine struct {
	program cel.Program
}

// NewCELEngine 编译表达式。表达式必须在启动期编译通过且返回布尔值，
// 带着一条坏规则上线不如不上线。
func NewCELEngine(expression string) (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("sku_id", cel.StringType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("is_blocked", cel.BoolType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile eligibility rule %q", expression)
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.Errorf("eligibility rule %q must evaluate to bool, got %s", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build cel program")
	}
	return &CELEngine{program: program}, nil
}

func (e *CELEngine) Allow(fact port.PurchaseFact) (bool, error) {
	out, _, err := e.program.Eval(map[string]interface{}{
		"user_id":    fact.UserID,
		"sku_id":     fact.SKUID,
		"quantity":   fact.Quantity,
		"is_blocked": fact.IsBlocked,
	})
	if err != nil {
		return false, errors.Wrap(err, "evaluate eligibility rule")
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("eligibility rule produced non-bool result")
	}
	return allowed, nil
}
