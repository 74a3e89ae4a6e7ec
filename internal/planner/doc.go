// Package planner provides the decomposers and the code generator used by
// the orchestration engine.
//
// PlanFileDecomposer reads a YAML plan from disk and needs no model.
// LLMDecomposer and LLMGenerator talk to any langchaingo llms.Model; the
// generator expects the model to answer with a JSON generation outcome.
//
// Plan format:
//
//	tasks:
//	  - id: lexer
//	    description: Implement the lexer
//	    type: implement_function
//	  - id: lexer-tests
//	    description: Unit tests for the lexer
//	    type: write_unit_test
//	    dependencies: [lexer]
package planner
