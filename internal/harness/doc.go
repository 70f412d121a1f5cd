// Package harness runs YAML query scenarios against the translation
// pipeline and a SQLite-backed reference engine.
//
// A scenario names a CUE model file, fixture rows and a list of textual
// queries with expectations:
//
//	name: staff-by-company
//	description: navigation filters join the referenced entity
//	model: ../models/sample.cue
//	fixtures:
//	  Company:
//	    - {Id: 10, Name: Fjord, Country.Id: 1}
//	vars:
//	  minAge: 30
//	queries:
//	  - name: fjord
//	    query: 'Person.where(p, p.Company.Name == "Fjord").select(p, p.Name)'
//	    expect:
//	      result: [Ann, Bob]
//	      plan_contains: [Join]
//
// Each scenario gets a fresh in-memory store. Scenarios sharing a model
// share one compiler, so running them in parallel exercises the plan cache
// from several goroutines. RunAll schedules scenarios on an ants worker
// pool.
//
// Golden files (testdata/golden/<scenario>.golden) hold the described plans
// and rendered results of every query; see AssertGolden.
package harness
