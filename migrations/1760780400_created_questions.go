package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("questions")

		collection.Fields.Add(
			&core.TextField{Name: "requester_id", Required: true, Max: 100},
			&core.TextField{Name: "display_name", Max: 200},
			&core.TextField{Name: "question", Max: 2000},
			&core.TextField{Name: "location", Max: 200},
			&core.TextField{Name: "topic", Max: 200},
			&core.TextField{Name: "helper_id", Max: 100},
			&core.TextField{Name: "helper_name", Max: 200},
			&core.DateField{Name: "entry_time", Required: true},
			&core.DateField{Name: "help_time"},
			&core.DateField{Name: "exit_time", Required: true},
			&core.SelectField{
				Name:      "exit_reason",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"withdrawn", "removed", "helped"},
			},
			&core.BoolField{Name: "served"},
			&core.NumberField{Name: "num_fix_requests", OnlyInt: true},
			&core.NumberField{Name: "num_messages", OnlyInt: true},
			&core.AutodateField{Name: "created", OnCreate: true},
		)

		collection.AddIndex("idx_questions_requester_exit", false, "requester_id, exit_time", "")
		collection.AddIndex("idx_questions_exit", false, "exit_time", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("questions")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
