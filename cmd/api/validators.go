package main

import (
	"github.com/go-playground/validator/v10"

	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/pkg/middleware"
)

// registerDomainValidations adds the stock ledger binding tags
func registerDomainValidations() error {
	validations := []struct {
		tag     string
		fn      validator.Func
		message string
	}{
		{"unit", validateUnit, "must be a supported unit of measure"},
		{"category", validateCategory, "must be a supported category"},
		{"location", validateLocation, "must be 'company' or 'site:<id>'"},
	}

	for _, v := range validations {
		if err := middleware.RegisterValidation(v.tag, v.fn, v.message); err != nil {
			return err
		}
	}
	return nil
}

func validateUnit(fl validator.FieldLevel) bool {
	_, err := domain.ParseUnit(fl.Field().String())
	return err == nil
}

// empty maps to the "other" category
func validateCategory(fl validator.FieldLevel) bool {
	_, err := domain.ParseCategory(fl.Field().String())
	return err == nil
}

func validateLocation(fl validator.FieldLevel) bool {
	_, err := domain.ParseLocation(fl.Field().String())
	return err == nil
}
