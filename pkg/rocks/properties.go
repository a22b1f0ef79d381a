package rocks

import (
	"fmt"
	"strconv"
)

// Property is a typed scalar attribute. Unit and uncertainty metadata are
// attached after materialization by walking the template paths; a property
// without metadata reports an empty unit and a nil uncertainty.
type Property interface {
	Value() any
	Unit() string
	Uncertainty() Property
}

// NumberProperty holds a float64 Value
type NumberProperty struct {
	Val          float64
	UnitCode     *string
	Uncertainty_ *NumberProperty
}

// NewNumberProperty is a convenience function for creating NumberProperty instances
func NewNumberProperty(value float64, decorators ...NumberPropertyDecoratorFunc) *NumberProperty {
	np := &NumberProperty{Val: value}

	for _, decorator := range decorators {
		decorator(np)
	}

	return np
}

func (np *NumberProperty) Value() any {
	return np.Val
}

func (np *NumberProperty) Float() float64 {
	return np.Val
}

func (np *NumberProperty) Unit() string {
	if np.UnitCode != nil {
		return *np.UnitCode
	}
	return ""
}

func (np *NumberProperty) Uncertainty() Property {
	if np.Uncertainty_ == nil {
		return nil
	}
	return np.Uncertainty_
}

func (np *NumberProperty) String() string {
	return strconv.FormatFloat(np.Val, 'g', -1, 64)
}

type NumberPropertyDecoratorFunc func(np *NumberProperty)

func UnitCode(code string) NumberPropertyDecoratorFunc {
	return func(np *NumberProperty) {
		np.UnitCode = &code
	}
}

func UncertaintyOf(value float64) NumberPropertyDecoratorFunc {
	return func(np *NumberProperty) {
		np.Uncertainty_ = &NumberProperty{Val: value}
	}
}

// TextProperty stores values of type text
type TextProperty struct {
	Val string
}

func NewTextProperty(value string) *TextProperty {
	return &TextProperty{Val: value}
}

func (tp *TextProperty) Value() any {
	return tp.Val
}

func (tp *TextProperty) Unit() string {
	return ""
}

func (tp *TextProperty) Uncertainty() Property {
	return nil
}

func (tp *TextProperty) String() string {
	return tp.Val
}

// ListProperty stores a plain list value, e.g. a list of alias designations.
type ListProperty struct {
	Val []any
}

func NewListProperty(value []any) *ListProperty {
	return &ListProperty{Val: value}
}

func (lp *ListProperty) Value() any {
	return lp.Val
}

func (lp *ListProperty) Unit() string {
	return ""
}

func (lp *ListProperty) Uncertainty() Property {
	return nil
}

// NullProperty marks an attribute that the template knows about but the
// retrieved document had no value for. It keeps the attribute shape stable.
type NullProperty struct{}

func NewNullProperty() *NullProperty {
	return &NullProperty{}
}

func (*NullProperty) Value() any {
	return nil
}

func (*NullProperty) Unit() string {
	return ""
}

func (*NullProperty) Uncertainty() Property {
	return nil
}

func (*NullProperty) String() string {
	return "<null>"
}

// NewNumberPropertyFromString accepts a value as a string and returns a new NumberProperty
func NewNumberPropertyFromString(value string) *NumberProperty {
	number, _ := strconv.ParseFloat(value, 64)
	return NewNumberProperty(number)
}

func propertyFromScalar(value any) Property {
	switch typed := value.(type) {
	case nil:
		return NewNullProperty()
	case float64:
		return NewNumberProperty(typed)
	case string:
		return NewTextProperty(typed)
	case bool:
		return NewTextProperty(strconv.FormatBool(typed))
	case []any:
		return NewListProperty(typed)
	default:
		return NewTextProperty(fmt.Sprint(typed))
	}
}
