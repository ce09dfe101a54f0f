package domain

// ProblemKind selects which solver-option default set a case merges onto.
type ProblemKind string

const (
	KindAero           ProblemKind = "aero"
	KindAeroStructural ProblemKind = "aerostructural"
)

// ExecMode selects how point computations are carried out.
type ExecMode string

const (
	ModeLocal ExecMode = "local"
	ModeHPC   ExecMode = "hpc"
	ModePool  ExecMode = "pool"
)

// Tree is the fully resolved configuration: defaults merged, paths expanded,
// shape validated. It is immutable once the resolver returns it.
type Tree struct {
	OutDir      string
	Mode        ExecMode
	Procs       int
	SolverCmd   string
	Cluster     ClusterOptions
	Hierarchies []Hierarchy
}

// ClusterOptions carries the batch-scheduler submission parameters used in
// hpc mode.
type ClusterOptions struct {
	Account   string
	Partition string
	Nodes     int
	NTasks    int
	TimeLimit string
	MemPerCPU string
	Mail      string
}

// Hierarchy is a named, purely organizational group of cases.
type Hierarchy struct {
	Name  string
	Cases []Case
}

// Case is one geometry under study: a mesh refinement series plus merged
// solver options and the scenarios to sweep.
type Case struct {
	Name          string
	Kind          ProblemKind
	MeshFiles     []string // ordered per the configuration, one refinement level each
	RefChord      float64
	RefArea       float64
	SolverOptions map[string]any
	StructOptions map[string]any
	WarmStart     bool
	Scenarios     []Scenario
}

// Levels returns the number of refinement levels the case defines.
func (c *Case) Levels() int {
	return len(c.MeshFiles)
}

// Scenario is a flow condition plus the angle-of-attack sweep to run at it.
type Scenario struct {
	Name        string
	Reynolds    float64
	Mach        float64
	Temperature float64
	AoAList     []float64
	RefData     string
}

// PointCount returns the total number of operating points the tree expands
// to: for each case, levels x scenarios x angles.
func (t *Tree) PointCount() int {
	total := 0
	for _, h := range t.Hierarchies {
		for _, c := range h.Cases {
			for _, s := range c.Scenarios {
				total += c.Levels() * len(s.AoAList)
			}
		}
	}
	return total
}
