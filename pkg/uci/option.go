package uci

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

type Option interface {
	UciName() string
	UciString() string
	Set(s string) error
}

type BoolOption struct {
	Name     string
	Value    *bool
	OnChange func()
}

func (opt *BoolOption) UciName() string {
	return opt.Name
}

func (opt *BoolOption) UciString() string {
	return fmt.Sprintf("option name %v type %v default %v",
		opt.Name, "check", *opt.Value)
}

func (opt *BoolOption) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*opt.Value = v
	if opt.OnChange != nil {
		opt.OnChange()
	}
	return nil
}

type IntOption struct {
	Name     string
	Min      int
	Max      int
	Value    *int
	OnChange func()
}

func (opt *IntOption) UciName() string {
	return opt.Name
}

func (opt *IntOption) UciString() string {
	return fmt.Sprintf("option name %v type %v default %v min %v max %v",
		opt.Name, "spin", *opt.Value, opt.Min, opt.Max)
}

func (opt *IntOption) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v < opt.Min || v > opt.Max {
		return errors.New("argument out of range")
	}
	*opt.Value = v
	if opt.OnChange != nil {
		opt.OnChange()
	}
	return nil
}

type FloatOption struct {
	Name     string
	Min      float64
	Max      float64
	Value    *float64
	OnChange func()
}

func (opt *FloatOption) UciName() string {
	return opt.Name
}

func (opt *FloatOption) UciString() string {
	return fmt.Sprintf("option name %v type %v default %v",
		opt.Name, "string", *opt.Value)
}

func (opt *FloatOption) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	if v < opt.Min || v > opt.Max {
		return errors.New("argument out of range")
	}
	*opt.Value = v
	if opt.OnChange != nil {
		opt.OnChange()
	}
	return nil
}

type StringOption struct {
	Name     string
	Value    *string
	OnChange func()
}

func (opt *StringOption) UciName() string {
	return opt.Name
}

func (opt *StringOption) UciString() string {
	var v = *opt.Value
	if v == "" {
		v = "<empty>"
	}
	return fmt.Sprintf("option name %v type %v default %v",
		opt.Name, "string", v)
}

func (opt *StringOption) Set(s string) error {
	*opt.Value = s
	if opt.OnChange != nil {
		opt.OnChange()
	}
	return nil
}
