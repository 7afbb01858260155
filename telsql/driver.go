package telsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"slices"
	"sync"

	"github.com/peterbourgon/telescope"
)

// Driver wraps a driver.Driver, recording every query made through the
// connections it opens.
type Driver struct {
	base driver.Driver
	rec  recorder
}

var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
)

// WrapDriver returns a driver which records queries made through base to tel.
// The connection name is recorded with every query, and is typically the name
// the base driver is registered under.
func WrapDriver(tel *telescope.Telescope, base driver.Driver, connection string) *Driver {
	if d, ok := base.(*Driver); ok && d.rec.tel == tel {
		return d
	}
	return &Driver{base: base, rec: recorder{tel: tel, connection: connection}}
}

// Open implements driver.Driver.
func (d *Driver) Open(name string) (driver.Conn, error) {
	c, err := d.base.Open(name)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: c, rec: d.rec}, nil
}

// OpenConnector implements driver.DriverContext.
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	if dc, ok := d.base.(driver.DriverContext); ok {
		c, err := dc.OpenConnector(name)
		if err != nil {
			return nil, err
		}
		return &Connector{base: c, driver: d, rec: d.rec}, nil
	}
	return &Connector{base: dsnConnector{dsn: name, driver: d.base}, driver: d, rec: d.rec}, nil
}

// Connector wraps a driver.Connector, recording every query made through the
// connections it opens.
type Connector struct {
	base   driver.Connector
	driver driver.Driver
	rec    recorder
}

var _ driver.Connector = (*Connector)(nil)

// WrapConnector returns a connector which records queries made through base to
// tel, with the given connection name.
func WrapConnector(tel *telescope.Telescope, base driver.Connector, connection string) *Connector {
	if c, ok := base.(*Connector); ok && c.rec.tel == tel {
		return c
	}
	rec := recorder{tel: tel, connection: connection}
	return &Connector{
		base:   base,
		driver: &Driver{base: base.Driver(), rec: rec},
		rec:    rec,
	}
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	cn, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: cn, rec: c.rec}, nil
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return c.driver
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }
func (c dsnConnector) Driver() driver.Driver                       { return c.driver }

// OpenDB opens a database via the registered driver with the given name, with
// every query recorded to tel. Like sql.Open, it doesn't connect to the
// database.
func OpenDB(tel *telescope.Telescope, driverName, dsn string) (*sql.DB, error) {
	base, err := lookupDriver(driverName, dsn)
	if err != nil {
		return nil, err
	}

	connector, err := WrapDriver(tel, base, driverName).OpenConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("open connector: %w", err)
	}

	return sql.OpenDB(connector), nil
}

var registry = struct {
	sync.Mutex
	names map[string]string // base driver name: wrapped driver name
}{
	names: map[string]string{},
}

// Register registers a recording wrapper of the driver with the given name, and
// returns the name of the wrapper, which can be passed to sql.Open. If no such
// driver is registered, for example because the application doesn't link it,
// Register returns false. Registering the same driver again returns the same
// name, and doesn't register another wrapper.
func Register(tel *telescope.Telescope, driverName string) (string, bool) {
	registry.Lock()
	defer registry.Unlock()

	if name, ok := registry.names[driverName]; ok {
		return name, true
	}

	base, err := lookupDriver(driverName, "")
	if err != nil {
		tel.Logger().Debug().Str("driver", driverName).Err(err).Msg("driver not available")
		return "", false
	}

	name := "telescope-" + driverName
	sql.Register(name, WrapDriver(tel, base, driverName))
	registry.names[driverName] = name
	return name, true
}

// lookupDriver returns the registered driver instance. The dsn is only parsed,
// never connected to.
func lookupDriver(driverName, dsn string) (driver.Driver, error) {
	if !slices.Contains(sql.Drivers(), driverName) {
		return nil, fmt.Errorf("%s: unknown driver (forgotten import?)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", driverName, err)
	}
	defer db.Close()

	return db.Driver(), nil
}
