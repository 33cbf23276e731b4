package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/community-gate/internal/account"
	"github.com/iliyamo/community-gate/internal/app"
	"github.com/iliyamo/community-gate/internal/apperr"
	"github.com/iliyamo/community-gate/internal/model"
	"github.com/iliyamo/community-gate/internal/visitor"
)

// seedData is the YAML seed layout:
//
//	users:
//	  - email: admin@example.com
//	    password: secret1
//	    role: admin
//	  - email: resident@example.com
//	    password: secret1
//	    role: resident
//	    householdNumber: A-101
//	visitors:
//	  - name: Casey
//	    createdBy: resident@example.com
type seedData struct {
	Users    []seedUser    `yaml:"users"`
	Visitors []seedVisitor `yaml:"visitors"`
}

type seedUser struct {
	Email           string `yaml:"email"`
	Password        string `yaml:"password"`
	Role            string `yaml:"role"`
	HouseholdNumber string `yaml:"householdNumber"`
}

type seedVisitor struct {
	Name      string `yaml:"name"`
	Phone     string `yaml:"phone"`
	Purpose   string `yaml:"purpose"`
	CreatedBy string `yaml:"createdBy"`
}

type seedSummary struct {
	users, skipped, visitors int
}

func parseSeed(raw []byte) (seedData, error) {
	var s seedData
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return seedData{}, fmt.Errorf("parse seed file: %w", err)
	}
	for i, v := range s.Visitors {
		if strings.TrimSpace(v.CreatedBy) == "" {
			return seedData{}, fmt.Errorf("visitor %d (%s): createdBy is required", i, v.Name)
		}
	}
	return s, nil
}

// applySeed provisions users, skipping emails that already exist, then files
// each visitor as the resident named by createdBy.
func applySeed(ctx context.Context, a *app.App, s seedData) (seedSummary, error) {
	var sum seedSummary
	for _, u := range s.Users {
		_, err := a.Accounts.Provision(ctx, account.NewUser{
			Email:           u.Email,
			Password:        u.Password,
			Role:            model.Role(strings.ToLower(strings.TrimSpace(u.Role))),
			HouseholdNumber: u.HouseholdNumber,
		})
		switch {
		case errors.Is(err, apperr.ErrConflict):
			sum.skipped++
		case err != nil:
			return sum, fmt.Errorf("user %s: %w", u.Email, err)
		default:
			sum.users++
		}
	}
	for _, v := range s.Visitors {
		creator, err := a.Accounts.Lookup(ctx, v.CreatedBy)
		if err != nil {
			return sum, fmt.Errorf("visitor %s: %w", v.Name, err)
		}
		if _, err := a.Engine.Create(ctx, creator.Identity(), visitor.NewVisitor{
			Name: v.Name, Phone: v.Phone, Purpose: v.Purpose,
		}); err != nil {
			return sum, fmt.Errorf("visitor %s: %w", v.Name, err)
		}
		sum.visitors++
	}
	return sum, nil
}
