package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Role flags are only writable by superusers; users may not set them on
// their own record at signup or afterwards.
const roleGuard = "@request.body.is_helper:isset = false && @request.body.is_admin:isset = false"

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		users.Fields.Add(
			&core.BoolField{Name: "is_helper"},
			&core.BoolField{Name: "is_admin"},
			&core.BoolField{Name: "video_chat_enabled"},
			&core.URLField{Name: "contact_url"},
		)

		users.CreateRule = guardRoles(users.CreateRule)
		users.UpdateRule = guardRoles(users.UpdateRule)

		return app.Save(users)
	}, func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		users.Fields.RemoveByName("is_helper")
		users.Fields.RemoveByName("is_admin")
		users.Fields.RemoveByName("video_chat_enabled")
		users.Fields.RemoveByName("contact_url")

		users.CreateRule = types.Pointer("")
		users.UpdateRule = types.Pointer("id = @request.auth.id")

		return app.Save(users)
	})
}

// guardRoles adds roleGuard to rule. A nil rule is superuser-only already.
func guardRoles(rule *string) *string {
	switch {
	case rule == nil:
		return nil
	case *rule == "":
		return types.Pointer(roleGuard)
	default:
		return types.Pointer("(" + *rule + ") && " + roleGuard)
	}
}
