package configuration

import (
	"github.com/go-playground/validator/v10"
)

func (c BarrageConfiguration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
