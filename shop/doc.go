// Package shop is the e-commerce assistant built on flow.
//
// Two workflows share one set of steps. The Q/A workflow classifies a
// shopper's query as Ask (answer in prose) or Search (list matching
// products) and answers it through the product query agent. The admin
// workflow adds a third route: a request to add one of the staged new
// items to the catalog, which parks for a yes/no confirmation before
// writing anything.
//
// Collaborators (classifier, retriever, writer) are interfaces so the
// workflows can run against LLM and HTTP backends in production and
// against fakes in tests.
package shop
