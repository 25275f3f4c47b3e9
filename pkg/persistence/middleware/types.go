package middleware

import "github.com/aretw0/spooler/pkg/ports"

// Middleware decorates a StoreFactory.
type Middleware func(ports.StoreFactory) ports.StoreFactory
