// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag provides the pass pipeline that hintpass runs over a unit.
//
// Passes are nodes in a directed acyclic graph:
//   - Independent nodes run in parallel
//   - Dependencies are explicit and checked for cycles at build time
//   - Every pipeline and node run gets an OpenTelemetry span
//   - Passes are registered by name and selected on the command line
//
// # Thread Safety
//
// All exported types are safe for concurrent use, except Builder.
//
// # Example
//
//	verify := dag.NewFuncNode("VERIFY", nil, verifyFn)
//	hint := dag.NewFuncNode("hello", []string{"VERIFY"}, hintFn)
//
//	pipeline, err := dag.NewBuilder("hintpass").
//	    AddNode(verify).
//	    AddNode(hint).
//	    Build()
//
//	executor, err := dag.NewExecutor(pipeline, logger)
//	result, err := executor.Run(ctx, module)
package dag
