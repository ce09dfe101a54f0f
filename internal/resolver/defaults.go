package resolver

// Baseline solver options per problem kind. Cases merge their overrides onto
// a deep copy of one of these; the engine itself treats every key as opaque
// except gridFile and outputDirectory, which are injected per point.

// AeroDefaults returns the baseline solver options for aerodynamic cases.
func AeroDefaults() map[string]any {
	return map[string]any{
		// Print Options
		"printIterations": false,
		"printAllOptions": false,
		"printIntro":      false,
		"printTiming":     false,
		// I/O Parameters
		"gridFile":                    "",
		"outputDirectory":             ".",
		"monitorvariables":            []any{"resrho", "resturb", "cl", "cd", "yplus"},
		"writeTecplotSurfaceSolution": true,
		// Physics Parameters
		"equationType": "RANS",
		"liftindex":    3,
		// Solver Parameters
		"smoother":      "DADI",
		"CFL":           0.5,
		"CFLCoarse":     0.25,
		"MGCycle":       "sg",
		"MGStartLevel":  -1,
		"nCyclesCoarse": 250,
		// ANK Solver Parameters
		"useANKSolver":          true,
		"nSubiterTurb":          5,
		"ANKSecondOrdSwitchTol": 1e-4,
		"ANKCoupledSwitchTol":   1e-6,
		"ankinnerpreconits":     2,
		"ankouterpreconits":     2,
		"anklinresmax":          0.1,
		// Termination Criteria
		"L2Convergence":       1e-12,
		"L2ConvergenceCoarse": 1e-2,
		"nCycles":             75000,
	}
}

// AeroStructuralDefaults returns the baseline solver options for
// aerostructural cases. Tighter coupling tolerances and force integration
// as tractions disabled, per the coupled-solution baseline.
func AeroStructuralDefaults() map[string]any {
	return map[string]any{
		// Print Options
		"printIterations": false,
		"printAllOptions": false,
		"printIntro":      false,
		"printTiming":     false,
		// I/O Parameters
		"gridFile":                    "",
		"outputDirectory":             ".",
		"monitorvariables":            []any{"resrho", "resturb", "cl", "cd", "yplus"},
		"writeTecplotSurfaceSolution": true,
		// Physics Parameters
		"equationType": "RANS",
		"liftindex":    3,
		// Solver Parameters
		"smoother":      "DADI",
		"CFL":           1.5,
		"CFLCoarse":     1.25,
		"MGCycle":       "sg",
		"MGStartLevel":  -1,
		"nCyclesCoarse": 250,
		// ANK Solver Parameters
		"useANKSolver":          true,
		"nSubiterTurb":          10,
		"ANKSecondOrdSwitchTol": 1e-6,
		"ANKCoupledSwitchTol":   1e-8,
		"ankinnerpreconits":     2,
		"ankouterpreconits":     2,
		"anklinresmax":          0.1,
		// Termination Criteria
		"L2Convergence":       1e-14,
		"L2ConvergenceCoarse": 1e-2,
		"L2ConvergenceRel":    1e-4,
		"nCycles":             10000,
		// Force integration
		"forcesAsTractions": false,
	}
}

// StructuralDefaults returns the baseline structural options merged under a
// case's struct_options. Material properties describe a generic aluminum
// shell; the shell thickness carries no default and must come from the case.
func StructuralDefaults() map[string]any {
	return map[string]any{
		"isym": 1,
		"properties": map[string]any{
			"rho":   2500.0,
			"E":     70.0e9,
			"nu":    0.30,
			"kcorr": 5.0 / 6.0,
			"ys":    350.0e6,
		},
		"load_info": map[string]any{
			"g":                    []any{0.0, -9.81, 0.0},
			"inertial_load_factor": 1.0,
		},
		"solver_options": map[string]any{
			"linear_solver_options": map[string]any{
				"atol":                1e-8,
				"err_on_non_converge": true,
				"maxiter":             25,
				"rtol":                1e-8,
				"use_aitken":          true,
			},
			"nonlinear_solver_options": map[string]any{
				"atol":                        1e-8,
				"err_on_non_converge":         true,
				"reraise_child_analysiserror": false,
				"maxiter":                     25,
				"rtol":                        1e-8,
				"use_aitken":                  true,
			},
		},
	}
}
