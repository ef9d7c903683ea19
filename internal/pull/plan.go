package pull

import "database/sql"

// Upsert modes. Most entities upsert by id; the pizza pricing tables are
// full-replaced every cycle because the cloud recycles their ids across
// syncs.
const (
	ModeUpsert  = "upsert"
	ModeReplace = "replace"
)

// Entity is one step of the pull plan.
type Entity struct {
	// Name keys the sync_state row and the log lines.
	Name string
	// Endpoint is the path segment under /api/hub/sync/.
	Endpoint string
	// Table and Columns drive the generated upsert. Columns[0] must be "id".
	Table   string
	Columns []string
	Mode    string
	// Overrides renames specific cloud fields before the default
	// camelCase -> snake_case rule applies.
	Overrides map[string]string
	// NoCursor entities always full-fetch and rely on upsert idempotence.
	NoCursor bool
	// HandleDeletes removes rows listed in the response's deletedIds,
	// together with their children, in the same transaction.
	HandleDeletes bool
	// Companion extracts embedded objects from a raw item into side tables.
	// Runs in the batch transaction after the parent row upsert.
	Companion func(tx *sql.Tx, item map[string]any) error
}

// Plan returns the dependency-ordered pull plan: a referenced table always
// precedes its referencing tables. The order is static; every cycle walks it
// the same way.
func Plan() []Entity {
	return []Entity{
		{
			Name:     "categories",
			Endpoint: "categories",
			Table:    "categories",
			Columns:  []string{"id", "tenant_id", "name", "sort_order", "color", "is_active", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:      "products",
			Endpoint:  "products",
			Table:     "products",
			Columns:   []string{"id", "tenant_id", "category_id", "name", "sku", "price", "tax_rate", "is_pizza", "is_active", "tags", "updated_at"},
			Mode:      ModeUpsert,
			Companion: productCompanions,
		},
		{
			Name:     "product_variants",
			Endpoint: "product-variants",
			Table:    "product_variants",
			Columns:  []string{"id", "product_id", "name", "price", "sort_order", "is_active", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:     "modifier_groups",
			Endpoint: "modifier-groups",
			Table:    "modifier_groups",
			Columns:  []string{"id", "tenant_id", "name", "min_select", "max_select", "is_active", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:     "modifiers",
			Endpoint: "modifiers",
			Table:    "modifiers",
			Columns:  []string{"id", "group_id", "name", "price", "is_active", "updated_at"},
			Mode:     ModeUpsert,
			Overrides: map[string]string{
				"modifierGroupId": "group_id",
			},
		},
		{
			Name:     "taxes",
			Endpoint: "taxes",
			Table:    "taxes",
			Columns:  []string{"id", "tenant_id", "name", "rate", "is_default", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:          "customers",
			Endpoint:      "customers",
			Table:         "customers",
			Columns:       []string{"id", "tenant_id", "name", "phone", "email", "address", "notes", "updated_at"},
			Mode:          ModeUpsert,
			HandleDeletes: true,
		},
		{
			Name:     "deals",
			Endpoint: "deals",
			Table:    "deals",
			Columns:  []string{"id", "tenant_id", "name", "deal_type", "price", "starts_at", "ends_at", "is_active", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:     "deal_items",
			Endpoint: "deal-items",
			Table:    "deal_items",
			Columns:  []string{"id", "deal_id", "product_id", "category_id", "quantity", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:     "users",
			Endpoint: "users",
			Table:    "users",
			Columns:  []string{"id", "tenant_id", "name", "role", "pin_hash", "permissions", "max_discount", "is_active", "updated_at"},
			Mode:     ModeUpsert,
			Overrides: map[string]string{
				"passwordHash": "pin_hash",
			},
		},
		{
			Name:     "floors",
			Endpoint: "floors",
			Table:    "floors",
			Columns:  []string{"id", "tenant_id", "name", "sort_order", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:          "dining_tables",
			Endpoint:      "tables",
			Table:         "dining_tables",
			Columns:       []string{"id", "floor_id", "name", "seats", "status", "updated_at"},
			Mode:          ModeUpsert,
			HandleDeletes: true,
		},
		{
			Name:     "pizza_sizes",
			Endpoint: "pizza/sizes",
			Table:    "pizza_sizes",
			Columns:  []string{"id", "tenant_id", "name", "inches", "sort_order", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:     "pizza_crusts",
			Endpoint: "pizza/crusts",
			Table:    "pizza_crusts",
			Columns:  []string{"id", "tenant_id", "name", "sort_order", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:     "pizza_toppings",
			Endpoint: "pizza/toppings",
			Table:    "pizza_toppings",
			Columns:  []string{"id", "tenant_id", "name", "topping_type", "is_active", "updated_at"},
			Mode:     ModeUpsert,
		},
		{
			Name:     "pizza_base_prices",
			Endpoint: "pizza/base-prices",
			Table:    "pizza_base_prices",
			Columns:  []string{"id", "size_id", "crust_id", "price"},
			Mode:     ModeReplace,
			NoCursor: true,
			Overrides: map[string]string{
				"pizzaSizeId":  "size_id",
				"pizzaCrustId": "crust_id",
			},
		},
		{
			Name:     "pizza_topping_prices",
			Endpoint: "pizza/topping-prices",
			Table:    "pizza_topping_prices",
			Columns:  []string{"id", "topping_id", "size_id", "portion", "price"},
			Mode:     ModeReplace,
			NoCursor: true,
			Overrides: map[string]string{
				"pizzaSizeId":    "size_id",
				"pizzaToppingId": "topping_id",
			},
		},
		{
			Name:     "pizza_cheese_prices",
			Endpoint: "pizza/cheese-prices",
			Table:    "pizza_cheese_prices",
			Columns:  []string{"id", "size_id", "tier", "price"},
			Mode:     ModeReplace,
			NoCursor: true,
			Overrides: map[string]string{
				"pizzaSizeId": "size_id",
			},
		},
	}
}

// childTables lists dependent tables cleaned up when deletedIds removes a
// parent row.
var childTables = map[string][]struct{ table, fk string }{
	"dining_tables": {
		{"table_sessions", "table_id"},
	},
	"customers": {
		{"store_credits", "customer_id"},
	},
}

// productCompanions stores the embedded objects a product item carries:
// per-order-type prices and the optional pizza configuration.
func productCompanions(tx *sql.Tx, item map[string]any) error {
	productID, _ := item["id"].(string)
	if productID == "" {
		return nil
	}

	if prices, ok := item["orderTypePrices"].([]any); ok {
		if _, err := tx.Exec(`DELETE FROM product_order_type_prices WHERE product_id = ?`, productID); err != nil {
			return err
		}
		for _, p := range prices {
			m, ok := p.(map[string]any)
			if !ok {
				continue
			}
			row := Transform(m, nil)
			if _, err := tx.Exec(`
				INSERT INTO product_order_type_prices (id, product_id, order_type, price)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					product_id = excluded.product_id,
					order_type = excluded.order_type,
					price      = excluded.price
			`, row["id"], productID, row["order_type"], row["price"]); err != nil {
				return err
			}
		}
	}

	if cfg, ok := item["pizzaProductConfig"].(map[string]any); ok {
		row := Transform(cfg, nil)
		if _, err := tx.Exec(`
			INSERT INTO pizza_product_configs (product_id, default_size_id, default_crust_id, max_toppings, config)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(product_id) DO UPDATE SET
				default_size_id  = excluded.default_size_id,
				default_crust_id = excluded.default_crust_id,
				max_toppings     = excluded.max_toppings,
				config           = excluded.config
		`, productID, row["default_size_id"], row["default_crust_id"], row["max_toppings"], coerce(cfg)); err != nil {
			return err
		}
	}

	return nil
}
