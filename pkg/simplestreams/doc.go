// Package simplestreams implements the subset of the simplestreams catalog
// protocol the region needs: reading signed product streams from an upstream
// mirror, walking them through a mirror writer, and the document helpers used
// to re-emit catalogs downstream.
//
// A simplestreams mirror is a tree of JSON documents. The root index
// (index:1.0) names one or more product streams (products:1.0). A product
// stream describes products, each with dated versions, each version holding
// items that point at downloadable files with declared checksums.
package simplestreams
