package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Adds the member profile fields the payment flow reads off the auth record.
func init() {
	m.Register(func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		if err := collection.Fields.AddMarshaledJSONAt(-1, []byte(`{
			"hidden": false,
			"id": "text_user_phone",
			"max": 32,
			"min": 0,
			"name": "phone",
			"pattern": "",
			"presentable": false,
			"primaryKey": false,
			"required": false,
			"system": false,
			"type": "text"
		}`)); err != nil {
			return err
		}

		if err := collection.Fields.AddMarshaledJSONAt(-1, []byte(`{
			"hidden": false,
			"id": "sel_user_mstatus",
			"maxSelect": 1,
			"name": "membership_status",
			"presentable": false,
			"required": false,
			"system": false,
			"type": "select",
			"values": [
				"active",
				"frozen",
				"expired"
			]
		}`)); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection.Fields.RemoveByName("phone")
		collection.Fields.RemoveByName("membership_status")

		return app.Save(collection)
	})
}
