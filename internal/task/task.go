// Package task holds the static catalog of goal descriptions the agent can
// execute, plus the success conditions that end a run.
package task

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Task is one workflow goal. Domain and Intent scope the macro cache so
// learned actions never leak between sites or goal categories.
type Task struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	StartURL    string  `yaml:"start_url"`
	Success     Success `yaml:"success_condition"`
	MaxSteps    int     `yaml:"max_steps"`
	Domain      string  `yaml:"domain"`
	Intent      string  `yaml:"intent"`
	// Hints are optional workflow notes appended to the planner prompt.
	Hints string `yaml:"hints,omitempty"`
}

// Success is the two-way task success condition: either substring match
// ends the run.
type Success struct {
	URLContains  string `yaml:"url_contains,omitempty"`
	PageContains string `yaml:"page_contains,omitempty"`
}

// Met reports whether the current URL or visible page text satisfies the
// condition. An empty condition never matches.
func (s Success) Met(url, pageText string) bool {
	if s.URLContains != "" && strings.Contains(url, s.URLContains) {
		return true
	}
	if s.PageContains != "" && strings.Contains(strings.ToLower(pageText), strings.ToLower(s.PageContains)) {
		return true
	}
	return false
}

func (t Task) validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("task missing id")
	case t.StartURL == "":
		return fmt.Errorf("task %s missing start_url", t.ID)
	case t.Domain == "" || t.Intent == "":
		return fmt.Errorf("task %s missing domain/intent", t.ID)
	case t.Success.URLContains == "" && t.Success.PageContains == "":
		return fmt.Errorf("task %s has no success condition", t.ID)
	}
	return nil
}

// Catalog is a lookup table of tasks by ID.
type Catalog struct {
	tasks map[string]Task
	order []string
}

// Builtin returns the catalog shipped with the binary.
func Builtin() *Catalog {
	c := &Catalog{tasks: map[string]Task{}}
	for _, t := range builtinTasks {
		c.tasks[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c
}

// LoadCatalog reads additional task definitions from a YAML file and merges
// them over the built-in set (file entries win on ID clash).
func LoadCatalog(path string) (*Catalog, error) {
	c := Builtin()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task catalog: %w", err)
	}
	var file struct {
		Tasks []Task `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse task catalog: %w", err)
	}
	for _, t := range file.Tasks {
		if t.MaxSteps <= 0 {
			t.MaxSteps = DefaultMaxSteps
		}
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, exists := c.tasks[t.ID]; !exists {
			c.order = append(c.order, t.ID)
		}
		c.tasks[t.ID] = t
	}
	return c, nil
}

// Get looks a task up by ID.
func (c *Catalog) Get(id string) (Task, error) {
	t, ok := c.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("unknown task %q (known: %s)", id, strings.Join(c.order, ", "))
	}
	return t, nil
}

// IDs lists known task IDs in catalog order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// DefaultMaxSteps bounds a run when a task does not set its own budget.
const DefaultMaxSteps = 25

var builtinTasks = []Task{
	{
		ID:          "saucedemo-checkout",
		Name:        "SauceDemo checkout",
		Description: "Log in to saucedemo.com as standard_user (password secret_sauce), add the Sauce Labs Backpack to the cart, open the cart and complete checkout with name Jane Doe and zip 94105.",
		StartURL:    "https://www.saucedemo.com/",
		Success:     Success{URLContains: "checkout-complete"},
		MaxSteps:    25,
		Domain:      "saucedemo.com",
		Intent:      "checkout",
		Hints:       "The login form has Username and Password fields. Cart is the bag icon top right. Checkout asks for First Name, Last Name and Zip/Postal Code.",
	},
	{
		ID:          "saucedemo-login",
		Name:        "SauceDemo login",
		Description: "Log in to saucedemo.com as standard_user with password secret_sauce and reach the product inventory.",
		StartURL:    "https://www.saucedemo.com/",
		Success:     Success{URLContains: "inventory"},
		MaxSteps:    10,
		Domain:      "saucedemo.com",
		Intent:      "login",
	},
	{
		ID:          "demoblaze-order",
		Name:        "Demoblaze place order",
		Description: "On demoblaze.com add the Samsung galaxy s6 to the cart, open the cart and place the order as Jane Doe paying with card 4111111111111111.",
		StartURL:    "https://www.demoblaze.com/",
		Success:     Success{PageContains: "Thank you for your purchase"},
		MaxSteps:    30,
		Domain:      "demoblaze.com",
		Intent:      "order",
		Hints:       "Product pages have an Add to cart button that pops an alert. The Place Order button opens a modal form.",
	},
}
