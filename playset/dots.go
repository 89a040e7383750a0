package playset

// Dots is a minimal deterministic playset used by the seed snapshot and the
// test suite. The state is the JSON shape {"dots":[{"c":id,"x":n,"y":n}]}:
// the verb "fire" plants a dot for the issuing controller, held inputs made
// of the letters u/d/l/r move that controller's dots, and a disconnect
// removes them.
type Dots struct{}

// NewDotsState returns the empty world.
func NewDotsState() map[string]any {
	return map[string]any{"dots": []any{}}
}

func (Dots) Name() string { return "dots" }

func (Dots) CommandLimits() map[string]int { return map[string]int{"fire": 3} }

func (Dots) MaxArgBytes() int { return 16 }

func (Dots) MaxInputBytes() int { return 8 }

func (Dots) Advance(state any, connects []Connect, commands []Command, inputs []Input, disconnects []Disconnect) any {
	world, ok := state.(map[string]any)
	if !ok {
		world = NewDotsState()
	}
	dots, _ := world["dots"].([]any)

	for _, cmd := range commands {
		if cmd.Verb != "fire" {
			continue
		}
		dots = append(dots, map[string]any{
			"c": float64(cmd.Controller),
			"x": float64(0),
			"y": float64(0),
		})
	}

	for _, in := range inputs {
		dx, dy := 0.0, 0.0
		for _, r := range in.Input {
			switch r {
			case 'u':
				dy--
			case 'd':
				dy++
			case 'l':
				dx--
			case 'r':
				dx++
			}
		}
		if dx == 0 && dy == 0 {
			continue
		}
		for _, elem := range dots {
			dot, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			if owner, _ := dot["c"].(float64); owner != float64(in.Controller) {
				continue
			}
			x, _ := dot["x"].(float64)
			y, _ := dot["y"].(float64)
			dot["x"] = x + dx
			dot["y"] = y + dy
		}
	}

	for _, d := range disconnects {
		kept := dots[:0]
		for _, elem := range dots {
			dot, ok := elem.(map[string]any)
			if ok {
				if owner, _ := dot["c"].(float64); owner == float64(d.Controller) {
					continue
				}
			}
			kept = append(kept, elem)
		}
		dots = kept
	}

	world["dots"] = dots
	return world
}
