package sweep

import (
	"fmt"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// Chain is the ordered work of one (case, scenario, refinement level): one
// RunPoint per angle of attack, executed strictly in list order so warm
// starts can thread the previous solution forward.
type Chain struct {
	Hierarchy string
	Case      *domain.Case
	Scenario  *domain.Scenario
	Level     int
	MeshFile  string
	Points    []*domain.RunPoint
}

func (c *Chain) Key() string {
	return fmt.Sprintf("%s/%s/%s/L%d", c.Hierarchy, c.Case.Name, c.Scenario.Name, c.Level)
}

// Expand flattens a resolved tree into chains. Order is deterministic:
// hierarchies, cases and scenarios as configured, levels ascending.
func Expand(tree *domain.Tree) []*Chain {
	var chains []*Chain
	for hi := range tree.Hierarchies {
		h := &tree.Hierarchies[hi]
		for ci := range h.Cases {
			c := &h.Cases[ci]
			for level, mesh := range c.MeshFiles {
				for si := range c.Scenarios {
					sc := &c.Scenarios[si]
					chain := &Chain{
						Hierarchy: h.Name,
						Case:      c,
						Scenario:  sc,
						Level:     level,
						MeshFile:  mesh,
					}
					for seq, aoa := range sc.AoAList {
						chain.Points = append(chain.Points, &domain.RunPoint{
							ID: domain.PointID{
								Hierarchy: h.Name,
								Case:      c.Name,
								Scenario:  sc.Name,
								Level:     level,
								AoA:       aoa,
							},
							Seq:      seq,
							Case:     c,
							Scenario: sc,
							MeshFile: mesh,
							Status:   domain.PointPending,
						})
					}
					chains = append(chains, chain)
				}
			}
		}
	}
	return chains
}
