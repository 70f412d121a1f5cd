// Package testutil provides the shared domain model and fixture rows used by
// package tests.
package testutil

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/quill/internal/model"
)

// SampleModel returns the model used throughout the tests:
//
//	Person  Id, Name, Age, Salary, Address{City, Zip}, Manager? -> Person,
//	        Company -> Company, Pets (Pet.Owner), Reports (Person.Manager)
//	Company Id, Name, Country -> Country
//	Country Id, Name
//	Pet     Id, Name, Kind, Owner -> Person
//
// Person row layout: Id 0, TypeId 1, Name 2, Age 3, Salary 4,
// Address.City 5, Address.Zip 6, Manager.Id 7, Company.Id 8.
func SampleModel() *model.Model {
	return model.NewBuilder().
		AddEntity("Person",
			model.KeyField("Id", model.Int),
			model.PrimitiveField("Name", model.String),
			model.PrimitiveField("Age", model.Int),
			model.PrimitiveField("Salary", model.Decimal),
			model.StructureField("Address", "Address"),
			model.ReferenceField("Manager", "Person").Optional(),
			model.ReferenceField("Company", "Company"),
			model.SetField("Pets", "Pet", "Owner"),
			model.SetField("Reports", "Person", "Manager"),
		).
		AddEntity("Company",
			model.KeyField("Id", model.Int),
			model.PrimitiveField("Name", model.String),
			model.ReferenceField("Country", "Country"),
		).
		AddEntity("Country",
			model.KeyField("Id", model.Int),
			model.PrimitiveField("Name", model.String),
		).
		AddEntity("Pet",
			model.KeyField("Id", model.Int),
			model.PrimitiveField("Name", model.String),
			model.PrimitiveField("Kind", model.String),
			model.ReferenceField("Owner", "Person"),
		).
		AddStructure("Address",
			model.PrimitiveField("City", model.String),
			model.PrimitiveField("Zip", model.String),
		).
		MustBuild()
}

// Type ids in SampleModel declaration order; they fill the TypeId column.
const (
	PersonTypeID  = 0
	CompanyTypeID = 1
	CountryTypeID = 2
	PetTypeID     = 3
)

// SampleRows returns fixture rows keyed by entity name, laid out in primary
// index order.
func SampleRows() map[string][][]any {
	dec := decimal.RequireFromString
	return map[string][][]any{
		"Country": {
			{int64(1), int64(CountryTypeID), "Norway"},
			{int64(2), int64(CountryTypeID), "Chile"},
		},
		"Company": {
			{int64(10), int64(CompanyTypeID), "Fjord", int64(1)},
			{int64(20), int64(CompanyTypeID), "Andes", int64(2)},
		},
		"Person": {
			{int64(1), int64(PersonTypeID), "Ann", int64(41), dec("5000.50"), "Oslo", "0150", nil, int64(10)},
			{int64(2), int64(PersonTypeID), "Bob", int64(29), dec("3100"), "Bergen", "5003", int64(1), int64(10)},
			{int64(3), int64(PersonTypeID), "Cid", int64(35), dec("4200"), "Santiago", "8320", int64(1), int64(20)},
			{int64(4), int64(PersonTypeID), "Dee", int64(29), dec("2800.25"), "Oslo", "0151", int64(2), int64(20)},
		},
		"Pet": {
			{int64(100), int64(PetTypeID), "Rex", "dog", int64(1)},
			{int64(101), int64(PetTypeID), "Tom", "cat", int64(1)},
			{int64(102), int64(PetTypeID), "Kit", "cat", int64(3)},
		},
	}
}
