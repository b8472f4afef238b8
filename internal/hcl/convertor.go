package hcl

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/vk/trainspec/internal/config"
)

const (
	funcComponent = "obj"
	funcImport    = "import"
)

// Converter turns native HCL syntax into config values. Directive calls
// are recognised syntactically; everything else is evaluated with a small
// function library and converted from cty.
type Converter struct {
	evalCtx *hcl.EvalContext
}

// NewConverter creates a converter with the default evaluation context.
func NewConverter() *Converter {
	return &Converter{evalCtx: &hcl.EvalContext{
		Functions: map[string]function.Function{
			"concat": stdlib.ConcatFunc,
			"format": stdlib.FormatFunc,
			"lower":  stdlib.LowerFunc,
			"max":    stdlib.MaxFunc,
			"min":    stdlib.MinFunc,
			"upper":  stdlib.UpperFunc,
			"env":    envFunc,
		},
	}}
}

// envFunc reads an environment variable; unset variables evaluate to null
// so documents can fall back with coalescing defaults.
var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		v, ok := os.LookupEnv(args[0].AsString())
		if !ok {
			return cty.NullVal(cty.String), nil
		}
		return cty.StringVal(v), nil
	},
})

// Body converts a body into a mapping. Unlabeled blocks become nested
// mappings; labeled blocks nest one mapping level per label.
func (c *Converter) Body(body *hclsyntax.Body) (*config.Mapping, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	out := config.NewMapping()

	for _, item := range orderedItems(body) {
		if item.attr != nil {
			v, d := c.Expr(item.attr.Expr)
			diags = append(diags, d...)
			if d.HasErrors() {
				continue
			}
			if err := out.Add(item.attr.Name, v); err != nil {
				diags = append(diags, duplicateDiag(err, item.attr.SrcRange))
			}
			continue
		}

		block := item.block
		inner, d := c.Body(block.Body)
		diags = append(diags, d...)
		if d.HasErrors() {
			continue
		}
		if err := insertBlock(out, block.Type, block.Labels, inner); err != nil {
			diags = append(diags, duplicateDiag(err, block.DefRange()))
		}
	}
	return out, diags
}

func insertBlock(out *config.Mapping, typ string, labels []string, inner *config.Mapping) error {
	if len(labels) == 0 {
		return out.Add(typ, inner)
	}
	parent := out.Mapping(typ)
	if parent == nil {
		if out.Has(typ) {
			return fmt.Errorf("duplicate key %q", typ)
		}
		parent = config.NewMapping()
		out.Set(typ, parent)
	}
	return insertBlock(parent, labels[0], labels[1:], inner)
}

func duplicateDiag(err error, rng hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Duplicate key",
		Detail:   err.Error(),
		Subject:  rng.Ptr(),
	}
}

// Expr converts one expression.
func (c *Converter) Expr(expr hclsyntax.Expression) (config.Value, hcl.Diagnostics) {
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		switch e.Name {
		case funcComponent:
			return c.component(e)
		case funcImport:
			return c.importDirective(e)
		}
	case *hclsyntax.ObjectConsExpr:
		return c.object(e)
	case *hclsyntax.TupleConsExpr:
		var diags hcl.Diagnostics
		seq := make(config.Sequence, 0, len(e.Exprs))
		for _, item := range e.Exprs {
			v, d := c.Expr(item)
			diags = append(diags, d...)
			seq = append(seq, v)
		}
		return seq, diags
	case *hclsyntax.ParenthesesExpr:
		return c.Expr(e.Expression)
	}

	val, diags := expr.Value(c.evalCtx)
	if diags.HasErrors() {
		return nil, diags
	}
	v, err := FromCty(val)
	if err != nil {
		return nil, append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unsupported value",
			Detail:   err.Error(),
			Subject:  expr.Range().Ptr(),
		})
	}
	return v, diags
}

func (c *Converter) object(e *hclsyntax.ObjectConsExpr) (config.Value, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	m := config.NewMapping()
	for _, item := range e.Items {
		keyVal, d := item.KeyExpr.Value(c.evalCtx)
		diags = append(diags, d...)
		if d.HasErrors() {
			continue
		}
		if keyVal.IsNull() || keyVal.Type() != cty.String {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid object key",
				Detail:   "Object keys must be strings.",
				Subject:  item.KeyExpr.Range().Ptr(),
			})
			continue
		}
		v, d := c.Expr(item.ValueExpr)
		diags = append(diags, d...)
		if d.HasErrors() {
			continue
		}
		if err := m.Add(keyVal.AsString(), v); err != nil {
			diags = append(diags, duplicateDiag(err, item.KeyExpr.Range()))
		}
	}
	return m, diags
}

func (c *Converter) component(e *hclsyntax.FunctionCallExpr) (config.Value, hcl.Diagnostics) {
	if len(e.Args) < 1 || len(e.Args) > 2 {
		return nil, hcl.Diagnostics{callDiag(e, `obj() takes a qualified name and an optional argument object, e.g. obj("optim.StepLR", { step_size = 10 })`)}
	}
	name, diags := c.nameArg(e)
	if diags.HasErrors() {
		return nil, diags
	}
	args := config.NewMapping()
	if len(e.Args) == 2 {
		v, d := c.Expr(e.Args[1])
		diags = append(diags, d...)
		if d.HasErrors() {
			return nil, diags
		}
		switch t := v.(type) {
		case *config.Mapping:
			args = t
		case config.Absent:
		default:
			return nil, append(diags, callDiag(e, "the second argument of obj() must be an object"))
		}
	}
	return &config.Component{Name: name, Args: args}, diags
}

func (c *Converter) importDirective(e *hclsyntax.FunctionCallExpr) (config.Value, hcl.Diagnostics) {
	if len(e.Args) != 1 {
		return nil, hcl.Diagnostics{callDiag(e, `import() takes exactly one qualified name, e.g. import("metrics.pearson")`)}
	}
	name, diags := c.nameArg(e)
	if diags.HasErrors() {
		return nil, diags
	}
	return &config.Import{Name: name}, diags
}

func (c *Converter) nameArg(e *hclsyntax.FunctionCallExpr) (string, hcl.Diagnostics) {
	val, diags := e.Args[0].Value(c.evalCtx)
	if diags.HasErrors() {
		return "", diags
	}
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.String || val.AsString() == "" {
		return "", append(diags, callDiag(e, "the first argument must be a non-empty qualified name string"))
	}
	return val.AsString(), diags
}

func callDiag(e *hclsyntax.FunctionCallExpr, detail string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Invalid %s() directive", e.Name),
		Detail:   detail,
		Subject:  e.Range().Ptr(),
	}
}

// FromCty converts an evaluated cty value into a config value. Numbers
// that are whole become integers. Map and object keys are sorted because
// cty does not keep declaration order for evaluated collections.
func FromCty(val cty.Value) (config.Value, error) {
	if val.IsNull() {
		return config.Absent{}, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known at load time")
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return config.Str(val.AsString()), nil
	case ty == cty.Bool:
		return config.Bool(val.True()), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return config.Int(i), nil
			}
		}
		f, _ := bf.Float64()
		return config.Float(f), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		seq := make(config.Sequence, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			v, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return seq, nil
	case ty.IsMapType() || ty.IsObjectType():
		raw := val.AsValueMap()
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := config.NewMapping()
		for _, k := range keys {
			v, err := FromCty(raw[k])
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}
