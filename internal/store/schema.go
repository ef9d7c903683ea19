package store

const schema = `
-- Sync bookkeeping ---------------------------------------------------------

CREATE TABLE IF NOT EXISTS sync_state (
    entity_type    TEXT PRIMARY KEY,
    last_synced_at TEXT,
    cursor         TEXT,
    record_count   INTEGER NOT NULL DEFAULT 0,
    status         TEXT NOT NULL DEFAULT 'IDLE',
    error          TEXT,
    updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS outbox_queue (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type    TEXT NOT NULL,
    entity_id      TEXT NOT NULL,
    action         TEXT NOT NULL,
    payload        TEXT NOT NULL,
    correlation_id TEXT,
    priority       INTEGER NOT NULL DEFAULT 0,
    status         TEXT NOT NULL DEFAULT 'PENDING',
    attempts       INTEGER NOT NULL DEFAULT 0,
    max_attempts   INTEGER NOT NULL DEFAULT 5,
    error          TEXT,
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    processed_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_queue(status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox_queue(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS order_sequences (
    date_key      TEXT PRIMARY KEY,
    current_value INTEGER NOT NULL DEFAULT 0
);

-- Identity -----------------------------------------------------------------

CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT,
    name          TEXT,
    role          TEXT,
    pin_hash      TEXT,
    permissions   TEXT NOT NULL DEFAULT '[]',
    max_discount  REAL NOT NULL DEFAULT 0,
    is_active     INTEGER NOT NULL DEFAULT 1,
    updated_at    TEXT
);

CREATE TABLE IF NOT EXISTS terminals (
    id           TEXT PRIMARY KEY,
    name         TEXT,
    role         TEXT NOT NULL DEFAULT 'pos',
    status       TEXT NOT NULL DEFAULT 'OFFLINE',
    last_seen_at TEXT,
    updated_at   TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT PRIMARY KEY,
    terminal_id TEXT,
    user_id     TEXT NOT NULL,
    is_active   INTEGER NOT NULL DEFAULT 1,
    started_at  TEXT NOT NULL DEFAULT (datetime('now')),
    ended_at    TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(is_active);

-- Reference data (cloud is system of record) -------------------------------

CREATE TABLE IF NOT EXISTS categories (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    sort_order  INTEGER NOT NULL DEFAULT 0,
    color       TEXT,
    is_active   INTEGER NOT NULL DEFAULT 1,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS products (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT,
    category_id  TEXT REFERENCES categories(id),
    name         TEXT,
    sku          TEXT,
    price        REAL NOT NULL DEFAULT 0,
    tax_rate     REAL NOT NULL DEFAULT 0,
    is_pizza     INTEGER NOT NULL DEFAULT 0,
    is_active    INTEGER NOT NULL DEFAULT 1,
    tags         TEXT,
    updated_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);

CREATE TABLE IF NOT EXISTS product_variants (
    id          TEXT PRIMARY KEY,
    product_id  TEXT REFERENCES products(id),
    name        TEXT,
    price       REAL NOT NULL DEFAULT 0,
    sort_order  INTEGER NOT NULL DEFAULT 0,
    is_active   INTEGER NOT NULL DEFAULT 1,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS product_order_type_prices (
    id          TEXT PRIMARY KEY,
    product_id  TEXT NOT NULL,
    order_type  TEXT NOT NULL,
    price       REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_otp_product ON product_order_type_prices(product_id);

CREATE TABLE IF NOT EXISTS pizza_product_configs (
    product_id       TEXT PRIMARY KEY,
    default_size_id  TEXT,
    default_crust_id TEXT,
    max_toppings     INTEGER NOT NULL DEFAULT 0,
    config           TEXT
);

CREATE TABLE IF NOT EXISTS modifier_groups (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    min_select  INTEGER NOT NULL DEFAULT 0,
    max_select  INTEGER NOT NULL DEFAULT 0,
    is_active   INTEGER NOT NULL DEFAULT 1,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS modifiers (
    id          TEXT PRIMARY KEY,
    group_id    TEXT REFERENCES modifier_groups(id),
    name        TEXT,
    price       REAL NOT NULL DEFAULT 0,
    is_active   INTEGER NOT NULL DEFAULT 1,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS taxes (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    rate        REAL NOT NULL DEFAULT 0,
    is_default  INTEGER NOT NULL DEFAULT 0,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS customers (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    phone       TEXT,
    email       TEXT,
    address     TEXT,
    notes       TEXT,
    updated_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);

CREATE TABLE IF NOT EXISTS deals (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    deal_type   TEXT,
    price       REAL NOT NULL DEFAULT 0,
    starts_at   TEXT,
    ends_at     TEXT,
    is_active   INTEGER NOT NULL DEFAULT 1,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS deal_items (
    id          TEXT PRIMARY KEY,
    deal_id     TEXT REFERENCES deals(id),
    product_id  TEXT,
    category_id TEXT,
    quantity    INTEGER NOT NULL DEFAULT 1,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS floors (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    sort_order  INTEGER NOT NULL DEFAULT 0,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS dining_tables (
    id          TEXT PRIMARY KEY,
    floor_id    TEXT REFERENCES floors(id),
    name        TEXT,
    seats       INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'AVAILABLE',
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS pizza_sizes (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    inches      INTEGER NOT NULL DEFAULT 0,
    sort_order  INTEGER NOT NULL DEFAULT 0,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS pizza_crusts (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    sort_order  INTEGER NOT NULL DEFAULT 0,
    updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS pizza_toppings (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT,
    name        TEXT,
    topping_type TEXT,
    is_active   INTEGER NOT NULL DEFAULT 1,
    updated_at  TEXT
);

-- Pizza pricing tables are full-replaced on every pull; the cloud may
-- recycle ids across syncs.

CREATE TABLE IF NOT EXISTS pizza_base_prices (
    id          TEXT PRIMARY KEY,
    size_id     TEXT,
    crust_id    TEXT,
    price       REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pizza_topping_prices (
    id          TEXT PRIMARY KEY,
    topping_id  TEXT,
    size_id     TEXT,
    portion     TEXT,
    price       REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pizza_cheese_prices (
    id          TEXT PRIMARY KEY,
    size_id     TEXT,
    tier        TEXT,
    price       REAL NOT NULL DEFAULT 0
);

-- Locally originated transactions ------------------------------------------

CREATE TABLE IF NOT EXISTS sales (
    id              TEXT PRIMARY KEY,
    receipt_number  TEXT NOT NULL,
    terminal_id     TEXT,
    user_id         TEXT,
    customer_id     TEXT,
    order_type      TEXT NOT NULL DEFAULT 'WALK_IN',
    subtotal        REAL NOT NULL DEFAULT 0,
    discount        REAL NOT NULL DEFAULT 0,
    tax             REAL NOT NULL DEFAULT 0,
    total           REAL NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'COMPLETED',
    voided_at       TEXT,
    void_reason     TEXT,
    sync_status     TEXT NOT NULL DEFAULT 'PENDING',
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sales_created ON sales(created_at);

CREATE TABLE IF NOT EXISTS sale_items (
    id          TEXT PRIMARY KEY,
    sale_id     TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
    product_id  TEXT,
    name        TEXT,
    quantity    REAL NOT NULL DEFAULT 1,
    unit_price  REAL NOT NULL DEFAULT 0,
    modifiers   TEXT,
    notes       TEXT
);

CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);

CREATE TABLE IF NOT EXISTS payments (
    id          TEXT PRIMARY KEY,
    sale_id     TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
    method      TEXT NOT NULL,
    amount      REAL NOT NULL DEFAULT 0,
    reference   TEXT,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS kitchen_orders (
    id            TEXT PRIMARY KEY,
    sale_id       TEXT,
    table_id      TEXT,
    order_type    TEXT NOT NULL DEFAULT 'WALK_IN',
    status        TEXT NOT NULL DEFAULT 'PENDING',
    notes         TEXT,
    fired_at      TEXT,
    completed_at  TEXT,
    sync_status   TEXT NOT NULL DEFAULT 'PENDING',
    created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_kitchen_orders_status ON kitchen_orders(status);

CREATE TABLE IF NOT EXISTS kitchen_order_items (
    id                TEXT PRIMARY KEY,
    kitchen_order_id  TEXT NOT NULL REFERENCES kitchen_orders(id) ON DELETE CASCADE,
    product_id        TEXT,
    name              TEXT,
    quantity          REAL NOT NULL DEFAULT 1,
    modifiers         TEXT,
    notes             TEXT
);

CREATE TABLE IF NOT EXISTS cash_drawers (
    id              TEXT PRIMARY KEY,
    terminal_id     TEXT,
    user_id         TEXT,
    opening_amount  REAL NOT NULL DEFAULT 0,
    closing_amount  REAL,
    expected_amount REAL,
    status          TEXT NOT NULL DEFAULT 'OPEN',
    opened_at       TEXT NOT NULL DEFAULT (datetime('now')),
    closed_at       TEXT,
    sync_status     TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE TABLE IF NOT EXISTS cash_drawer_transactions (
    id          TEXT PRIMARY KEY,
    drawer_id   TEXT NOT NULL REFERENCES cash_drawers(id),
    tx_type     TEXT NOT NULL,
    amount      REAL NOT NULL DEFAULT 0,
    reason      TEXT,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    sync_status TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE TABLE IF NOT EXISTS shift_logs (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    terminal_id  TEXT,
    clock_in_at  TEXT NOT NULL DEFAULT (datetime('now')),
    clock_out_at TEXT,
    sync_status  TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE TABLE IF NOT EXISTS shift_breaks (
    id          TEXT PRIMARY KEY,
    shift_id    TEXT NOT NULL REFERENCES shift_logs(id),
    started_at  TEXT NOT NULL DEFAULT (datetime('now')),
    ended_at    TEXT,
    sync_status TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE TABLE IF NOT EXISTS refunds (
    id          TEXT PRIMARY KEY,
    sale_id     TEXT NOT NULL,
    user_id     TEXT,
    amount      REAL NOT NULL DEFAULT 0,
    reason      TEXT,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    sync_status TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE TABLE IF NOT EXISTS table_sessions (
    id          TEXT PRIMARY KEY,
    table_id    TEXT NOT NULL,
    user_id     TEXT,
    guests      INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'OPEN',
    opened_at   TEXT NOT NULL DEFAULT (datetime('now')),
    closed_at   TEXT,
    sync_status TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE TABLE IF NOT EXISTS guest_checks (
    id          TEXT PRIMARY KEY,
    table_session_id TEXT,
    name        TEXT,
    total       REAL NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'OPEN',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    sync_status TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE TABLE IF NOT EXISTS store_credits (
    id          TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    amount      REAL NOT NULL DEFAULT 0,
    entry_type  TEXT NOT NULL,
    reference   TEXT,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    sync_status TEXT NOT NULL DEFAULT 'PENDING'
);
`
