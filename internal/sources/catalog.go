package sources

import "github.com/cmgoffena13/etl-file-loader/internal/schema"

// Catalog returns the declared sources this deployment loads. Add new
// sources here; the registry rejects declarations whose grain names a
// field the schema does not have.
func Catalog() []*Source {
	return []*Source{
		SalesTransactions(),
		InventorySnapshots(),
		CustomerAccounts(),
		WebOrders(),
		FinancialLedger(),
	}
}

// SalesTransactions covers daily point-of-sale extracts.
func SalesTransactions() *Source {
	return &Source{
		FilePattern: "sales_*.csv",
		Format:      FormatCSV,
		TableName:   "transactions",
		Grain:       []string{"transaction_id"},
		Schema: schema.Schema{
			{Name: "transaction_id", Type: schema.TypeString, MaxLen: 50},
			{Name: "customer_id", Type: schema.TypeString, MaxLen: 50},
			{Name: "product_sku", Type: schema.TypeString, MaxLen: 100},
			{Name: "quantity", Type: schema.TypeInt},
			{Name: "unit_price", Type: schema.TypeDecimal},
			{Name: "total_amount", Type: schema.TypeDecimal},
			{Name: "sale_date", Type: schema.TypeDate},
			{Name: "sales_rep", Type: schema.TypeString, MaxLen: 100, Optional: true},
		},
		AuditQuery: `SELECT
			CASE WHEN COUNT(*) > 0 THEN 1 ELSE 0 END AS has_rows,
			CASE WHEN SUM(CASE WHEN quantity <= 0 THEN 1 ELSE 0 END) = 0 THEN 1 ELSE 0 END AS positive_quantities
			FROM {table}`,
	}
}

// InventorySnapshots covers gzipped nightly warehouse counts.
func InventorySnapshots() *Source {
	return &Source{
		FilePattern: "inventory_*.csv.gz",
		Format:      FormatCSV,
		TableName:   "inventory_snapshots",
		Grain:       []string{"warehouse_code", "product_sku", "snapshot_date"},
		Schema: schema.Schema{
			{Name: "warehouse_code", Type: schema.TypeString, MaxLen: 20},
			{Name: "product_sku", Type: schema.TypeString, MaxLen: 100},
			{Name: "snapshot_date", Type: schema.TypeDate},
			{Name: "quantity_on_hand", Type: schema.TypeInt},
			{Name: "quantity_reserved", Type: schema.TypeInt, Optional: true},
			{Name: "unit_cost", Type: schema.TypeDecimal, Optional: true},
		},
	}
}

// CustomerAccounts covers CRM workbook exports. Column headers in the
// workbook differ from the warehouse column names, hence the aliases.
func CustomerAccounts() *Source {
	return &Source{
		FilePattern: "customers_*.xlsx",
		Format:      FormatExcel,
		TableName:   "customer_accounts",
		Grain:       []string{"account_id"},
		SheetName:   "Accounts",
		Schema: schema.Schema{
			{Name: "account_id", Alias: "Account ID", Type: schema.TypeString, MaxLen: 50},
			{Name: "account_name", Alias: "Account Name", Type: schema.TypeString, MaxLen: 255},
			{Name: "contact_email", Alias: "Email", Type: schema.TypeEmail, Optional: true},
			{Name: "signup_date", Alias: "Signup Date", Type: schema.TypeDate},
			{Name: "is_active", Alias: "Active", Type: schema.TypeBool, Optional: true},
		},
		ValidationErrorThreshold: 0.05,
	}
}

// WebOrders covers order events exported from the storefront as a JSON
// document with the records nested under data.orders.
func WebOrders() *Source {
	return &Source{
		FilePattern: "orders_*.json*",
		Format:      FormatJSON,
		TableName:   "web_orders",
		Grain:       []string{"order_id"},
		ArrayPath:   "data.orders",
		Schema: schema.Schema{
			{Name: "order_id", Type: schema.TypeString, MaxLen: 50},
			{Name: "customer_email", Type: schema.TypeEmail},
			{Name: "order_total", Type: schema.TypeFloat},
			{Name: "item_count", Type: schema.TypeInt},
			{Name: "placed_at", Type: schema.TypeDateTime},
			{Name: "shipping_country", Type: schema.TypeString, MaxLen: 2, Optional: true},
		},
	}
}

// FinancialLedger covers columnar general-ledger extracts.
func FinancialLedger() *Source {
	return &Source{
		FilePattern: "ledger_*.parquet",
		Format:      FormatParquet,
		TableName:   "financial_ledger",
		Grain:       []string{"entry_id"},
		Schema: schema.Schema{
			{Name: "entry_id", Type: schema.TypeInt},
			{Name: "account_code", Type: schema.TypeString, MaxLen: 100},
			{Name: "account_name", Type: schema.TypeString, MaxLen: 100},
			{Name: "debit_amount", Type: schema.TypeFloat, Optional: true},
			{Name: "credit_amount", Type: schema.TypeFloat, Optional: true},
			{Name: "description", Type: schema.TypeString, MaxLen: 500},
			{Name: "transaction_date", Type: schema.TypeDate},
			{Name: "reference_number", Type: schema.TypeString, MaxLen: 100},
		},
		AuditQuery: `SELECT
			CASE WHEN SUM(CASE WHEN debit_amount IS NULL AND credit_amount IS NULL THEN 1 ELSE 0 END) = 0 THEN 1 ELSE 0 END AS amount_present
			FROM {table}`,
	}
}
